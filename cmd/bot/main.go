// Command bot joins an exercise and acts like a scripted client: it keeps a
// replica of the state and periodically proposes actions through it.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"

	"manvsim.ai/internal/logging"
	"manvsim.ai/internal/sim/exercise"
	"manvsim.ai/internal/sim/model"
	"manvsim.ai/internal/sim/reducer"
	"manvsim.ai/internal/sim/replica"
	"manvsim.ai/internal/sim/tuning"
	"manvsim.ai/internal/transport/ws"
)

func main() {
	def := tuning.Defaults()
	var (
		url        = flag.String("url", "ws://localhost:3200/v1/ws", "ws url")
		exerciseID = flag.String("exercise", "", "participant or trainer id")
		name       = flag.String("name", "bot", "client name")
		every      = flag.Duration("every", 5*time.Second, "proposal interval")
		start      = flag.Bool("start", false, "start the exercise (trainer id only)")
		view       = flag.String("view", "", "simulated region to keep materialized (optional)")
		hold       = flag.Duration("hold", def.StandIn.Hold(), "how long an unviewed region stays materialized")
		update     = flag.Duration("update", def.StandIn.Update(), "stand-in evaluation interval")
		logLevel   = flag.String("log_level", "info", "debug|info|warn|error")
	)
	flag.Parse()

	logger, err := logging.New(*logLevel, "console", "manvsim-bot")
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()
	if _, ok := exercise.RoleForID(*exerciseID); !ok {
		logger.Fatal("missing or malformed -exercise")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	b := &bot{
		url:        *url,
		exerciseID: *exerciseID,
		name:       *name,
		every:      *every,
		start:      *start,
		view:       *view,
		hold:       *hold,
		update:     *update,
		log:        logger,
	}
	if err := b.run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("bot stopped", zap.Error(err))
	}
}

type bot struct {
	url        string
	exerciseID string
	name       string
	every      time.Duration
	start      bool
	view       model.UUID
	hold       time.Duration
	update     time.Duration
	log        *zap.Logger

	conn    *ws.Client
	rep     *replica.Replica
	nextReq int
	step    int
}

func (b *bot) run(ctx context.Context) error {
	conn, err := ws.Dial(ctx, b.url, b.log.Named("ws"))
	if err != nil {
		return err
	}
	defer conn.Close()
	b.conn = conn

	clientID, err := conn.Join(ctx, b.exerciseID, b.name)
	if err != nil {
		return err
	}
	role := model.RoleParticipant
	if trainer, _ := exercise.RoleForID(b.exerciseID); trainer {
		role = model.RoleTrainer
	}
	b.log = b.log.With(zap.String("client_id", clientID), zap.String("role", string(role)))
	b.rep = replica.New(reducer.Default(), role, clientID, conn, b.log.Named("replica"))
	if err := b.resync(ctx); err != nil {
		return err
	}
	b.log.Info("joined", zap.Int("patients", len(b.rep.State().Patients)))

	demand := replica.NewDemand(b.rep, b.hold, b.update, b.log.Named("demand"))
	defer demand.Stop()
	if b.view != "" {
		demand.Require(b.view)
		defer demand.Release(b.view)
	}
	demand.Run()

	if b.start && role == model.RoleTrainer && b.rep.State().CurrentStatus != model.StatusRunning {
		b.propose(ctx, reducer.StartExerciseAction{})
	}

	ticker := time.NewTicker(b.every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-conn.Done():
			return ws.ErrClosed
		case a, ok := <-conn.Actions():
			if !ok {
				return ws.ErrClosed
			}
			var missing *reducer.SimulatedRegionMissingError
			err := b.rep.Reconcile(replica.Broadcast{Seq: a.Seq, ClientID: a.ClientID, Action: a.Raw})
			switch {
			case errors.As(err, &missing):
				if err := b.resync(ctx); err != nil {
					return err
				}
			case err != nil:
				b.log.Warn("reconcile", zap.Uint64("seq", a.Seq), zap.Error(err))
			}
		case <-ticker.C:
			if a, ok := b.nextAction(role); ok {
				b.propose(ctx, a)
			}
		}
	}
}

// resync replaces the replica with the server state.
func (b *bot) resync(ctx context.Context) error {
	s, seq, err := b.conn.GetState(ctx)
	if err != nil {
		return err
	}
	b.rep.Reset(s, seq)
	return nil
}

// nextAction cycles the pretriage status of the patients visible to the
// replica. Trainers only start the exercise.
func (b *bot) nextAction(role model.Role) (reducer.Action, bool) {
	if role != model.RoleParticipant {
		return nil, false
	}
	s := b.rep.State()
	ids := model.SortedKeys(s.Patients)
	if len(ids) == 0 {
		return nil, false
	}
	statuses := []model.PatientStatus{model.StatusRed, model.StatusYellow, model.StatusGreen, model.StatusBlack}
	id := ids[b.step%len(ids)]
	status := statuses[(b.step/len(ids))%len(statuses)]
	b.step++
	return reducer.SetPretriageStatusAction{PatientID: id, Status: status}, true
}

func (b *bot) propose(ctx context.Context, a reducer.Action) {
	raw, err := reducer.Encode(a)
	if err != nil {
		b.log.Error("encode action", zap.Error(err))
		return
	}
	b.nextReq++
	reqID := strconv.Itoa(b.nextReq)
	canonical, err := b.rep.Propose(ctx, reqID, raw)
	if err != nil {
		b.log.Debug("proposal does not apply locally", zap.String("type", a.ActionType()), zap.Error(err))
		return
	}
	if err := b.conn.Propose(ctx, canonical); err != nil {
		b.rep.Reject(reqID)
		var re *ws.ResponseError
		if errors.As(err, &re) {
			b.log.Info("proposal rejected", zap.String("type", a.ActionType()), zap.String("code", re.Code), zap.String("message", re.Message))
			return
		}
		b.log.Warn("propose", zap.Error(err))
	}
}
