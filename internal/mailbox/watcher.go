// Package mailbox watches one IMAP inbox for job-notification emails.
// Two trigger sources feed a single check routine: unilateral mailbox
// updates delivered while the connection idles, and a fixed polling
// ticker as fallback. The check routine is guarded by a re-entrancy
// flag so overlapping triggers collapse into one pass.
package mailbox

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"helferbot/internal/config"
	"helferbot/internal/dedup"
	"helferbot/internal/logging"
	"helferbot/internal/parser"
	"helferbot/pkg/models"
)

// State is the watcher's connection state. Transitions are validated;
// an illegal transition indicates a programming error and is logged.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateReady
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

var validTransitions = map[State][]State{
	StateDisconnected: {StateConnecting},
	StateConnecting:   {StateReady, StateDisconnected},
	StateReady:        {StateDisconnected},
}

const (
	reconnectBase = 5 * time.Second
	reconnectMax  = 60 * time.Second
)

// JobHandler processes one parsed job. It returns true when the job
// reached a terminal outcome (applied, or definitively not available)
// and the message may be marked read. An error means the attempt failed
// for infrastructure reasons and the message should stay unread for a
// retry, up to the per-message budget.
type JobHandler func(ctx context.Context, rec *models.JobRecord) (bool, error)

// Watcher maintains a live IMAP connection and feeds new mail from the
// configured sender through the parser into the job handler.
type Watcher struct {
	cfg     *config.Config
	handler JobHandler
	tracker *dedup.Tracker
	logger  logging.Logger

	mu     sync.Mutex
	client *imapclient.Client
	state  State

	checking atomic.Bool
	notify   chan struct{}

	// Per-message parse/handle attempt counters, keyed by UID. After
	// the budget is exhausted the message is marked read anyway so a
	// permanently unparseable mail cannot loop forever.
	attempts map[imap.UID]int

	emailsParsed  atomic.Int64
	emailsSkipped atomic.Int64
}

// NewWatcher creates a watcher. The handler is invoked sequentially,
// never concurrently.
func NewWatcher(cfg *config.Config, tracker *dedup.Tracker, handler JobHandler) *Watcher {
	return &Watcher{
		cfg:      cfg,
		handler:  handler,
		tracker:  tracker,
		logger:   logging.GetGlobalLogger(),
		state:    StateDisconnected,
		notify:   make(chan struct{}, 1),
		attempts: make(map[imap.UID]int),
	}
}

// Connected reports whether the watcher currently holds a ready
// connection, for health reporting.
func (w *Watcher) Connected() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state == StateReady
}

// Stats returns cumulative parse counters.
func (w *Watcher) Stats() (parsed, skipped int64) {
	return w.emailsParsed.Load(), w.emailsSkipped.Load()
}

// Run connects and watches the mailbox until the context is cancelled,
// reconnecting with exponential backoff on connection loss.
func (w *Watcher) Run(ctx context.Context) {
	backoff := reconnectBase

	for ctx.Err() == nil {
		if err := w.connect(ctx); err != nil {
			w.logger.Warn("Mailbox connection failed, will retry", map[string]interface{}{
				"error":   err.Error(),
				"backoff": backoff.String(),
			})

			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}

			backoff = min(backoff*2, reconnectMax)
			continue
		}

		backoff = reconnectBase
		w.watch(ctx)
		w.disconnect()
	}
}

// connect dials, authenticates and selects INBOX.
func (w *Watcher) connect(ctx context.Context) error {
	w.transition(StateConnecting)

	addr := fmt.Sprintf("%s:%d", w.cfg.Mailbox.Host, w.cfg.Mailbox.Port)

	client, err := imapclient.DialTLS(addr, &imapclient.Options{
		TLSConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
			ServerName: w.cfg.Mailbox.Host,
		},
		UnilateralDataHandler: &imapclient.UnilateralDataHandler{
			Mailbox: func(data *imapclient.UnilateralDataMailbox) {
				if data.NumMessages != nil {
					select {
					case w.notify <- struct{}{}:
					default:
					}
				}
			},
		},
	})
	if err != nil {
		w.transition(StateDisconnected)
		return fmt.Errorf("imap dial %s: %w", addr, err)
	}

	if err := client.Login(w.cfg.Mailbox.Username, w.cfg.Mailbox.Password).Wait(); err != nil {
		_ = client.Close()
		w.transition(StateDisconnected)
		return fmt.Errorf("imap login: %w", err)
	}

	if _, err := client.Select("INBOX", &imap.SelectOptions{ReadOnly: false}).Wait(); err != nil {
		_ = client.Close()
		w.transition(StateDisconnected)
		return fmt.Errorf("imap select inbox: %w", err)
	}

	w.mu.Lock()
	w.client = client
	w.mu.Unlock()
	w.transition(StateReady)

	w.logger.Info("Mailbox connected", map[string]interface{}{
		"host":   w.cfg.Mailbox.Host,
		"sender": w.cfg.Mailbox.Sender,
	})

	// Catch up on anything that arrived while disconnected.
	if err := w.CheckForNewEmails(ctx); err != nil {
		w.logger.Warn("Initial mailbox check failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	return nil
}

// watch idles on the connection and runs the check routine whenever the
// server signals new mail or the poll interval elapses. Returns when
// the connection breaks or the context is cancelled.
func (w *Watcher) watch(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.Mailbox.PollInterval)
	defer ticker.Stop()

	for {
		idleCmd, err := w.imapClient().Idle()
		if err != nil {
			w.logger.Warn("IMAP idle failed, reconnecting", map[string]interface{}{
				"error": err.Error(),
			})
			return
		}

		select {
		case <-ctx.Done():
			_ = idleCmd.Close()
			return
		case <-w.notify:
		case <-ticker.C:
		}

		if err := idleCmd.Close(); err != nil {
			w.logger.Warn("IMAP idle close failed, reconnecting", map[string]interface{}{
				"error": err.Error(),
			})
			return
		}

		if err := w.CheckForNewEmails(ctx); err != nil {
			w.logger.Warn("Mailbox check failed, reconnecting", map[string]interface{}{
				"error": err.Error(),
			})
			return
		}
	}
}

// CheckForNewEmails searches unseen mail from the watched sender and
// processes each message. A returned error is a transport failure; all
// per-message problems are swallowed so one bad mail cannot halt the
// watcher.
func (w *Watcher) CheckForNewEmails(ctx context.Context) error {
	if !w.checking.CompareAndSwap(false, true) {
		w.logger.Debug("Mailbox check already in progress, skipping trigger")
		return nil
	}
	defer w.checking.Store(false)

	client := w.imapClient()
	if client == nil || !w.Connected() {
		w.logger.Warn("Mailbox check requested while not ready", map[string]interface{}{
			"state": w.currentState().String(),
		})
		return nil
	}

	criteria := &imap.SearchCriteria{
		NotFlag: []imap.Flag{imap.FlagSeen},
		Header: []imap.SearchCriteriaHeaderField{
			{Key: "From", Value: w.cfg.Mailbox.Sender},
		},
	}

	searchData, err := client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return fmt.Errorf("imap uid search: %w", err)
	}

	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return nil
	}

	w.logger.Debug("Unseen messages found", map[string]interface{}{
		"count": len(uids),
	})

	msgs, err := client.Fetch(imap.UIDSetNum(uids...), &imap.FetchOptions{
		UID:          true,
		Envelope:     true,
		InternalDate: true,
	}).Collect()
	if err != nil {
		return fmt.Errorf("imap fetch: %w", err)
	}

	for _, msg := range msgs {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		w.processMessage(ctx, msg)
	}

	return nil
}

// processMessage parses one message and drives the downstream handler.
// The message is marked read only on a terminal outcome or when its
// retry budget is exhausted; otherwise it stays unread for another pass.
func (w *Watcher) processMessage(ctx context.Context, msg *imapclient.FetchMessageBuffer) {
	uid := msg.UID

	var subject string
	receivedAt := msg.InternalDate
	if msg.Envelope != nil {
		subject = DecodeSubject(msg.Envelope.Subject)
		if receivedAt.IsZero() {
			receivedAt = msg.Envelope.Date
		}
	}

	logger := w.logger.WithField("uid", uint32(uid))

	rec := parser.Parse(subject, receivedAt)
	if rec == nil {
		w.emailsSkipped.Add(1)
		if w.bumpAttempts(uid) {
			logger.Info("Subject not parseable, marking read after retries", map[string]interface{}{
				"subject": subject,
			})
			w.markSeen(uid)
		} else {
			logger.Debug("Subject not parseable, leaving unread for retry", map[string]interface{}{
				"subject": subject,
			})
		}
		return
	}

	w.emailsParsed.Add(1)

	key := rec.Key()
	if w.tracker.Has(key) {
		logger.Info("Job already handled, skipping", map[string]interface{}{
			"job_key": key,
		})
		w.clearAttempts(uid)
		w.markSeen(uid)
		return
	}

	done, err := w.handler(ctx, rec)
	if err != nil {
		logger.Error("Job handler failed", map[string]interface{}{
			"job_key": key,
			"error":   err.Error(),
		})
		if w.bumpAttempts(uid) {
			w.markSeen(uid)
		}
		return
	}

	if done {
		w.tracker.Add(key)
		w.clearAttempts(uid)
		w.markSeen(uid)
		logger.Info("Job processed, message marked read", map[string]interface{}{
			"job_key": key,
		})
		return
	}

	if w.bumpAttempts(uid) {
		w.markSeen(uid)
	}
}

// bumpAttempts increments the per-message counter and reports whether
// the retry budget is now exhausted.
func (w *Watcher) bumpAttempts(uid imap.UID) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.attempts[uid]++
	if w.attempts[uid] >= w.cfg.Mailbox.MaxAttempts {
		delete(w.attempts, uid)
		return true
	}
	return false
}

// clearAttempts drops a message's retry counter once it reached a
// terminal outcome, so the map holds only messages still in flight.
func (w *Watcher) clearAttempts(uid imap.UID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.attempts, uid)
}

// markSeen sets the \Seen flag. Failures are logged and swallowed; the
// worst case is reprocessing a message on the next check, which the
// dedup tracker absorbs.
func (w *Watcher) markSeen(uid imap.UID) {
	client := w.imapClient()
	if client == nil {
		return
	}

	cmd := client.Store(imap.UIDSetNum(uid), &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  []imap.Flag{imap.FlagSeen},
	}, nil)

	if err := cmd.Close(); err != nil {
		w.logger.Warn("Failed to mark message read", map[string]interface{}{
			"uid":   uint32(uid),
			"error": err.Error(),
		})
	}
}

func (w *Watcher) disconnect() {
	w.mu.Lock()
	client := w.client
	w.client = nil
	w.mu.Unlock()

	if client != nil {
		if err := client.Logout().Wait(); err != nil {
			w.logger.Debug("IMAP logout failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
		_ = client.Close()
	}

	w.transition(StateDisconnected)
}

func (w *Watcher) imapClient() *imapclient.Client {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.client
}

func (w *Watcher) currentState() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// transition moves the watcher to a new state, logging any transition
// the state machine does not allow.
func (w *Watcher) transition(to State) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state == to {
		return
	}

	allowed := false
	for _, s := range validTransitions[w.state] {
		if s == to {
			allowed = true
			break
		}
	}
	if !allowed {
		w.logger.Error("Illegal mailbox state transition", map[string]interface{}{
			"from": w.state.String(),
			"to":   to.String(),
		})
	}

	w.state = to
}
