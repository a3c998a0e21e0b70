package dispatch

import (
	"context"
	"sync"
	"time"

	"undangin/internal/eventbus"
	"undangin/internal/storage"
	"undangin/internal/transport"
	logx "undangin/pkg/logx"
)

// Dispatcher runs the batch-cycle loop for one campaign at a time. All
// collaborators are injected; construct one per process (running two
// dispatchers over the same account set is not supported).
type Dispatcher struct {
	store  storage.Store
	sender transport.Sender
	log    logx.Logger
	bus    eventbus.Bus

	state   *RateState
	pacer   *Pacer
	monitor *FailureMonitor

	loc   *time.Location
	now   func() time.Time
	sleep func(time.Duration)

	// rootCtx outlives any single control call; the loop must keep running
	// after Start returns. Canceled only by Close.
	rootCtx    context.Context
	rootCancel context.CancelFunc

	mu         sync.Mutex
	running    bool
	paused     bool
	campaignID string
	// lastCampaignID survives Stop so Status can still report counts for
	// the campaign that just halted (ban-stop vs completion).
	lastCampaignID string
	// loopActive guards against a second loop goroutine racing a Resume
	// while the old one is still draining toward its next checkpoint.
	loopActive bool
	// gen identifies the dispatch session. Start bumps it; a loop that
	// observes a newer gen is stale (Stop then Start happened while its
	// send was in flight) and exits without touching the new session.
	gen int
	// loopDone closes when the current loop goroutine exits. A new loop
	// waits on its predecessor so two loops never send concurrently.
	loopDone chan struct{}

	loopWG sync.WaitGroup
}

type Option func(*Dispatcher)

func WithProfile(p Profile) Option {
	return func(d *Dispatcher) { d.pacer.SetProfile(p) }
}

func WithLocation(loc *time.Location) Option {
	return func(d *Dispatcher) {
		if loc != nil {
			d.loc = loc
		}
	}
}

func WithDispatcherClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		d.now = now
		d.pacer.now = now
	}
}

func WithDispatcherSleep(sleep func(time.Duration)) Option {
	return func(d *Dispatcher) {
		d.sleep = sleep
		d.pacer.sleep = sleep
	}
}

func WithBanPredicate(p BanPredicate) Option {
	return func(d *Dispatcher) { d.monitor = NewFailureMonitor(d.state, p) }
}

func WithPacerOptions(opts ...PacerOption) Option {
	return func(d *Dispatcher) {
		for _, o := range opts {
			o(d.pacer)
		}
	}
}

func New(store storage.Store, sender transport.Sender, log logx.Logger, bus eventbus.Bus, opts ...Option) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	state := NewRateState()
	d := &Dispatcher{
		store:  store,
		sender: sender,
		log:    log,
		bus:    bus,
		state:  state,
		loc:    time.Local,
		now:    time.Now,
		sleep:  time.Sleep,
	}
	d.rootCtx, d.rootCancel = context.WithCancel(context.Background())
	d.pacer = NewPacer(profiles[ProfileBalanced], state, log)
	d.monitor = NewFailureMonitor(state, DefaultBanPredicate)
	for _, o := range opts {
		o(d)
	}
	return d
}

// SetProfile switches the pacing preset. It takes effect on the next
// pacing computation; counters already accrued stay as they are.
func (d *Dispatcher) SetProfile(name string) error {
	p, err := LookupProfile(name)
	if err != nil {
		return err
	}
	d.pacer.SetProfile(p)
	d.log.Info("rate profile switched", logx.String("profile", name))
	return nil
}

// Start begins dispatching the given campaign. The loop runs in the
// background on the dispatcher's own context, so it outlives the caller;
// Start returns immediately. It fails with ErrAlreadyRunning while a
// campaign is active (paused counts as active).
func (d *Dispatcher) Start(campaignID string) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return ErrAlreadyRunning
	}
	d.running = true
	d.paused = false
	d.campaignID = campaignID
	d.lastCampaignID = campaignID
	d.gen++
	gen := d.gen
	d.loopActive = true
	prev := d.loopDone
	done := make(chan struct{})
	d.loopDone = done
	d.mu.Unlock()

	d.log.Info("dispatch started", logx.String("campaign", campaignID), logx.String("profile", string(d.pacer.Profile().Name)))
	d.publish(eventbus.TypeDispatchStarted, campaignID, "")

	d.spawnLoop(gen, prev, done)
	return nil
}

// spawnLoop runs the loop goroutine for one session. It waits for the
// previous loop to exit first: after a Stop mid-send the old goroutine may
// still be finishing that send, and only one worker may be live at a time.
func (d *Dispatcher) spawnLoop(gen int, prev, done chan struct{}) {
	d.loopWG.Add(1)
	go func() {
		defer d.loopWG.Done()
		defer close(done)
		if prev != nil {
			<-prev
		}
		d.runLoop(gen)
	}()
}

// Pause suspends the loop at the next checkpoint between sends. It never
// interrupts a send in progress.
func (d *Dispatcher) Pause() {
	d.mu.Lock()
	if d.running && !d.paused {
		d.paused = true
	}
	d.mu.Unlock()
	d.log.Info("dispatch pause requested")
}

// Resume clears a pause and restarts the loop. It fails with ErrNotRunning
// when no campaign is active.
func (d *Dispatcher) Resume() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return ErrNotRunning
	}
	d.paused = false
	if d.loopActive {
		// The old loop has not reached a checkpoint yet; it will observe
		// the cleared flag and keep going.
		d.mu.Unlock()
		return nil
	}
	d.loopActive = true
	gen := d.gen
	prev := d.loopDone
	done := make(chan struct{})
	d.loopDone = done
	d.mu.Unlock()

	d.log.Info("dispatch resumed")
	d.spawnLoop(gen, prev, done)
	return nil
}

// Stop halts dispatch entirely. Idempotent. In-flight sends are not rolled
// back; only further scheduling stops.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	wasRunning := d.running
	d.running = false
	d.paused = false
	d.campaignID = ""
	d.mu.Unlock()

	if wasRunning {
		d.log.Info("dispatch stopped")
		d.publish(eventbus.TypeDispatchStopped, "", "stopped by operator")
	}
}

// Status returns a fresh snapshot. Counts are queried from the store on
// every call for the active campaign (or the last one after a stop).
func (d *Dispatcher) Status(ctx context.Context) (Status, error) {
	d.mu.Lock()
	st := Status{
		Running:    d.running,
		Paused:     d.paused,
		CampaignID: d.campaignID,
		Profile:    d.pacer.Profile().Name,
	}
	campaign := d.campaignID
	if campaign == "" {
		campaign = d.lastCampaignID
	}
	d.mu.Unlock()

	if campaign != "" {
		counts, err := d.store.CountMessagesByStatus(ctx, campaign)
		if err != nil {
			return st, err
		}
		st.Counts = counts
	}
	return st, nil
}

// checkpoint reports whether the loop for session gen may continue. When it
// may not, the loop goroutine is released (loopActive cleared) under the
// same lock so a concurrent Resume cannot double-start the loop. A stale
// loop (gen mismatch) exits without touching the new session's flags.
func (d *Dispatcher) checkpoint(gen int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if gen != d.gen {
		return false
	}
	if !d.running || d.paused {
		d.loopActive = false
		return false
	}
	return true
}

// pauseLoop is the loop-internal pause: flag set and goroutine released in
// one step, campaign preserved for a later Resume. No-op for stale loops.
func (d *Dispatcher) pauseLoop(gen int, reason string) {
	d.mu.Lock()
	if gen != d.gen {
		d.mu.Unlock()
		return
	}
	if d.running {
		d.paused = true
	}
	d.loopActive = false
	campaign := d.campaignID
	d.mu.Unlock()

	d.log.Warn("dispatch paused", logx.String("campaign", campaign), logx.String("reason", reason))
	d.publish(eventbus.TypeDispatchPaused, campaign, reason)
}

// stopLoop is the loop-internal stop (completion or ban escalation). No-op
// for stale loops.
func (d *Dispatcher) stopLoop(gen int, reason string) {
	d.mu.Lock()
	if gen != d.gen {
		d.mu.Unlock()
		return
	}
	wasRunning := d.running
	campaign := d.campaignID
	d.running = false
	d.paused = false
	d.campaignID = ""
	d.loopActive = false
	d.mu.Unlock()

	if !wasRunning {
		return
	}
	d.log.Info("dispatch stopped", logx.String("campaign", campaign), logx.String("reason", reason))
	d.publish(eventbus.TypeDispatchStopped, campaign, reason)
}

func (d *Dispatcher) publish(typ, campaignID, detail string) {
	if d.bus == nil {
		return
	}
	d.bus.Publish(eventbus.Event{Type: typ, Data: LoopEvent{CampaignID: campaignID, Detail: detail}})
}

// LoopEvent is the payload published on dispatch lifecycle events.
type LoopEvent struct {
	CampaignID string `json:"campaign_id,omitempty"`
	Detail     string `json:"detail,omitempty"`
}

// runLoop executes batch cycles until the campaign completes, pacing blocks
// sending, a ban signal escalates, or a control operation intervenes.
func (d *Dispatcher) runLoop(gen int) {
	ctx := d.rootCtx
	for {
		if ctx.Err() != nil {
			d.stopLoop(gen, "context canceled")
			return
		}
		if !d.checkpoint(gen) {
			return
		}

		d.mu.Lock()
		campaign := d.campaignID
		d.mu.Unlock()

		// Daily quota rollover is delegated to the store; date-keyed, so
		// calling it every cycle is cheap.
		day := d.now().In(d.loc).Format("2006-01-02")
		if _, err := d.store.ResetDailyCounts(ctx, day); err != nil {
			d.log.Warn("daily reset failed", logx.Err(err))
		}

		all, err := d.store.ListAccounts(ctx)
		if err != nil {
			d.pauseLoop(gen, "listing accounts failed: "+err.Error())
			return
		}
		accounts := AvailableAccounts(all)
		if len(accounts) == 0 {
			d.pauseLoop(gen, "no available sender accounts")
			return
		}

		profile := d.pacer.Profile()
		messages, err := d.store.ListPendingMessages(ctx, campaign, profile.MessagesPerBatch)
		if err != nil {
			d.pauseLoop(gen, "listing pending messages failed: "+err.Error())
			return
		}
		if len(messages) == 0 {
			d.stopLoop(gen, "campaign complete")
			return
		}

		d.log.Info("batch cycle",
			logx.String("campaign", campaign),
			logx.Int("messages", len(messages)),
			logx.Int("accounts", len(accounts)),
		)

		if !d.runBatch(ctx, gen, Distribute(messages, accounts)) {
			return
		}

		if !d.checkpoint(gen) {
			return
		}
		d.sleep(d.pacer.DelayBeforeNext(DelayBatch))
	}
}

// runBatch walks the assignments in order. It returns false when the loop
// must end (pause, stop, or cancellation observed).
func (d *Dispatcher) runBatch(ctx context.Context, gen int, assignments []Assignment) bool {
	for _, as := range assignments {
		// Local quota tracking: distribution is chunk-sized, not
		// quota-sized, so an account can run out mid-chunk. Unsent
		// messages stay pending for the next cycle.
		remaining := as.Account.DailyLimit - as.Account.SentToday
		for _, msg := range as.Messages {
			if ctx.Err() != nil {
				d.stopLoop(gen, "context canceled")
				return false
			}
			if !d.checkpoint(gen) {
				return false
			}
			if remaining <= 0 {
				d.log.Debug("account quota exhausted mid-batch", logx.String("account", as.Account.ID))
				break
			}
			if !d.pacer.CanSendNow() {
				d.pauseLoop(gen, "pacing window closed")
				return false
			}

			if !d.sendOne(ctx, gen, as.Account, msg) {
				return false
			}
			remaining--
			if !d.checkpoint(gen) {
				return false
			}
			d.sleep(d.pacer.DelayBeforeNext(DelayMessage))
		}
	}
	return true
}

// sendOne performs one send with its status writes and failure handling.
// It returns false when the loop must end.
func (d *Dispatcher) sendOne(ctx context.Context, gen int, acct storage.SenderAccount, msg storage.OutboundMessage) bool {
	if err := d.store.UpdateMessageStatus(ctx, msg.ID, storage.MessageQueued, storage.StatusUpdate{}); err != nil {
		d.log.Warn("queue mark failed", logx.String("message", msg.ID), logx.Err(err))
	}

	session := acct.Session
	if session == "" {
		session = acct.ID
	}
	err := d.sender.Send(ctx, transport.Outbound{
		Session:  session,
		ToPhone:  msg.GuestPhone,
		Body:     msg.Body,
		MediaURL: msg.MediaURL,
	})

	if err == nil {
		sentAt := d.now()
		if uerr := d.store.UpdateMessageStatus(ctx, msg.ID, storage.MessageSent, storage.StatusUpdate{
			SenderID: acct.ID,
			SentAt:   &sentAt,
		}); uerr != nil {
			// Known at-least-once gap: the message went out but the status
			// write failed. Surfaced in logs, not masked.
			d.log.Error("status write failed after successful send",
				logx.String("message", msg.ID), logx.Err(uerr))
		}
		if ierr := d.store.IncrementSentToday(ctx, acct.ID); ierr != nil {
			d.log.Warn("quota increment failed", logx.String("account", acct.ID), logx.Err(ierr))
		}
		d.pacer.RecordSent()
		d.log.Debug("message sent",
			logx.String("message", msg.ID),
			logx.String("account", acct.ID),
			logx.String("to", msg.GuestPhone),
		)
		d.publish(eventbus.TypeMessageSent, msg.CampaignID, msg.ID)
		return true
	}

	verdict := d.monitor.Classify(err)
	if uerr := d.store.UpdateMessageStatus(ctx, msg.ID, storage.MessageFailed, storage.StatusUpdate{
		Error:          err.Error(),
		IncrementRetry: true,
	}); uerr != nil {
		d.log.Warn("failure mark failed", logx.String("message", msg.ID), logx.Err(uerr))
	}
	d.log.Warn("message failed",
		logx.String("message", msg.ID),
		logx.String("account", acct.ID),
		logx.String("verdict", verdict.String()),
		logx.Err(err),
	)
	d.publish(eventbus.TypeMessageFailed, msg.CampaignID, msg.ID)

	switch verdict {
	case VerdictStop:
		d.publish(eventbus.TypeBanSignal, msg.CampaignID, err.Error())
		d.stopLoop(gen, "ban signal escalation")
		return false
	case VerdictPause:
		d.publish(eventbus.TypeBanSignal, msg.CampaignID, err.Error())
		d.pauseLoop(gen, "ban signal detected")
		return false
	default:
		return true
	}
}

// Close shuts the dispatcher down for process exit: stop scheduling, cancel
// any in-flight send, and wait for the loop goroutine. Unlike Stop, which
// lets an in-flight send finish, Close aborts it.
func (d *Dispatcher) Close() {
	d.Stop()
	d.rootCancel()
	d.loopWG.Wait()
}

// Wait blocks until the loop goroutine has exited. Test helper; production
// callers rely on Stop or Close.
func (d *Dispatcher) Wait() {
	d.loopWG.Wait()
}
