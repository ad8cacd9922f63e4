package agent

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/atmx/auction-pool/internal/host"
	"github.com/atmx/auction-pool/internal/model"
	"github.com/atmx/auction-pool/internal/store"
)

// recordingSession keeps the envelope of every message the host acknowledged.
type recordingSession struct {
	host.Session
	sent []*host.Envelope
}

func (s *recordingSession) Dispatch(ctx context.Context, msg host.Msg) (*host.Ack, error) {
	ack, err := s.Session.Dispatch(ctx, msg)
	if err != nil {
		return nil, err
	}
	if env, encErr := host.Encode(msg); encErr == nil {
		s.sent = append(s.sent, env)
	}
	return ack, nil
}

// compensate records the host effects of an invocation whose ledger commit
// failed after the host committed. The record is written in a fresh
// transaction; if that fails too, the log line is all that is left.
func (a *Agent) compensate(ctx context.Context, inv *invocation, funds []model.Coin, sess *recordingSession, cause error) {
	sent := sess.sent
	if sent == nil {
		sent = []*host.Envelope{}
	}
	msgs, err := json.Marshal(sent)
	if err != nil {
		msgs = nil
	}
	c := model.Compensation{
		ID:         inv.res.ID,
		Command:    inv.res.Command,
		Sender:     inv.res.Sender,
		SessionID:  sess.ID(),
		Funds:      funds,
		Messages:   msgs,
		Error:      cause.Error(),
		RecordedAt: time.Now().UTC(),
	}

	err = store.Update(ctx, a.store, func(tx store.Tx) error {
		return tx.SaveCompensation(ctx, &c)
	})
	if err != nil {
		slog.Error("ledger commit failed after host commit, compensation not recorded",
			"id", c.ID, "command", c.Command, "session", c.SessionID,
			"messages", string(msgs), "cause", cause, "err", err)
		return
	}
	slog.Error("ledger commit failed after host commit, compensation recorded",
		"id", c.ID, "command", c.Command, "session", c.SessionID, "cause", cause)
}

// Compensations lists recorded host effects that have no ledger counterpart.
func (a *Agent) Compensations(ctx context.Context) ([]model.Compensation, error) {
	var out []model.Compensation
	err := store.View(ctx, a.store, func(tx store.Tx) error {
		var err error
		out, err = tx.Compensations(ctx)
		return err
	})
	return out, err
}
