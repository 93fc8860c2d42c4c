package swcache

import (
	"context"

	pagechannel "github.com/always-cache/sw-cache/pkg/page-channel"
)

// DraftStore holds the locally saved draft of the new post form.
type DraftStore interface {
	Clear(ctx context.Context) error
}

// PageDrafts keeps drafts in the pages. Clearing asks every controlled
// page to drop its draft.
type PageDrafts struct {
	Hub *pagechannel.Hub
}

func (p PageDrafts) Clear(ctx context.Context) error {
	p.Hub.Broadcast(pagechannel.NoticeMessage(pagechannel.NoticeClearDraft), false)
	return nil
}

// Start asks every page, controlled or not, to report its status and
// starts a background prefetch of whatever is missing from the cache.
func (w *Worker) Start() {
	n := w.hub.Broadcast(pagechannel.RequestStatusMessage(), true)
	w.log.Debug().Int("pages", n).Msg("Requested status from pages")
	go w.Prefetch(w.ctx, false)
}

// OnMessage handles a message posted by a page.
func (w *Worker) OnMessage(from *pagechannel.Client, msg pagechannel.Message) {
	switch {
	case msg.StatusUpdate != nil:
		w.UpdateStatus(*msg.StatusUpdate)
	case msg.RequestStatusUpdate:
		if err := from.Post(pagechannel.StatusMessage(w.session.Snapshot())); err != nil {
			w.log.Debug().Err(err).Str("client", from.ID).Msg("Could not reply with status")
		}
	default:
		w.log.Trace().Str("client", from.ID).Str("notice", msg.Notice).Msg("Ignoring notice from page")
	}
}

// OnConnect asks a newly connected page for its status.
func (w *Worker) OnConnect(c *pagechannel.Client) {
	if err := c.Post(pagechannel.RequestStatusMessage()); err != nil {
		w.log.Debug().Err(err).Str("client", c.ID).Msg("Could not request status")
	}
}

// UpdateStatus applies a status update. Going online resumes the drain.
func (w *Worker) UpdateStatus(u pagechannel.StatusUpdate) {
	prev, next := w.session.Update(u)
	w.log.Debug().
		Bool("online", next.Online).
		Bool("loggedIn", next.LoggedIn).
		Msg("Session status updated")
	if !prev.Online && next.Online && w.State() == StateActivated {
		w.startDrain(false)
	}
}

// forceLogout drops the local authentication state and tells the pages.
func (w *Worker) forceLogout() {
	loggedIn := false
	_, next := w.session.Update(pagechannel.StatusUpdate{LoggedIn: &loggedIn})
	w.hub.Broadcast(pagechannel.NoticeMessage(pagechannel.NoticeForceLogout), false)
	w.hub.Broadcast(pagechannel.StatusMessage(next), false)
	w.log.Info().Msg("Forced logout")
}

func (w *Worker) clearDraft(ctx context.Context) {
	if err := w.drafts.Clear(ctx); err != nil {
		w.log.Warn().Err(err).Msg("Could not clear draft")
	}
}
