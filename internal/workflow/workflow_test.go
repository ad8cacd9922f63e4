package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"github.com/atmx/auction-pool/internal/host"
	"github.com/atmx/auction-pool/internal/model"
)

type fakeSession struct {
	log    []string
	failTo string
}

func (f *fakeSession) ID() string { return "fake" }

func (f *fakeSession) Dispatch(_ context.Context, msg host.Msg) (*host.Ack, error) {
	m, ok := msg.(host.BankSendMsg)
	if !ok {
		return nil, host.ErrUnknownMsg
	}
	if m.To == f.failTo {
		return nil, host.ErrInsufficientFunds
	}
	f.log = append(f.log, "send:"+m.To)
	data, _ := json.Marshal(m.To)
	return &host.Ack{Data: data}, nil
}

func (f *fakeSession) Commit(context.Context) error   { return nil }
func (f *fakeSession) Rollback(context.Context) error { return nil }

func send(to string) host.BankSendMsg {
	return host.BankSendMsg{From: "agent", To: to, Amount: []model.Coin{model.NewCoin("inj", 1)}}
}

func TestRun_OrderAndReplies(t *testing.T) {
	sess := &fakeSession{}
	r := NewResolver()
	var acked []string
	r.OnReply("collect", func(_ context.Context, step Step, ack *host.Ack) ([]Step, error) {
		var to string
		if err := json.Unmarshal(ack.Data, &to); err != nil {
			return nil, err
		}
		acked = append(acked, to+"/"+step.Payload.(string))
		return nil, nil
	})
	r.OnCall("finalize", func(_ context.Context, step Step) ([]Step, error) {
		sess.log = append(sess.log, "finalize")
		return []Step{Dispatch(send("winner"))}, nil
	})

	s := New(
		DispatchReply(send("a"), "collect", "first"),
		DispatchReply(send("b"), "collect", "second"),
		Self("finalize", nil),
	)
	n, err := Run(context.Background(), sess, s, r)
	if err != nil {
		t.Fatal(err)
	}
	if n != 4 {
		t.Errorf("ran %d steps, want 4", n)
	}
	want := []string{"send:a", "send:b", "finalize", "send:winner"}
	if !reflect.DeepEqual(sess.log, want) {
		t.Errorf("log = %v, want %v", sess.log, want)
	}
	if !reflect.DeepEqual(acked, []string{"a/first", "b/second"}) {
		t.Errorf("acked = %v", acked)
	}
	if s.Len() != 0 {
		t.Errorf("saga not drained: %d", s.Len())
	}
}

func TestRun_ProducedStepsRunBeforeSiblings(t *testing.T) {
	sess := &fakeSession{}
	r := NewResolver()
	r.OnCall("expand", func(context.Context, Step) ([]Step, error) {
		return []Step{Dispatch(send("child1")), Dispatch(send("child2"))}, nil
	})

	s := New(Self("expand", nil), Dispatch(send("sibling")))
	if _, err := Run(context.Background(), sess, s, r); err != nil {
		t.Fatal(err)
	}
	want := []string{"send:child1", "send:child2", "send:sibling"}
	if !reflect.DeepEqual(sess.log, want) {
		t.Errorf("log = %v, want %v", sess.log, want)
	}
}

func TestRun_DispatchFailureAborts(t *testing.T) {
	sess := &fakeSession{failTo: "b"}
	s := New(Dispatch(send("a")), Dispatch(send("b")), Dispatch(send("c")))

	n, err := Run(context.Background(), sess, s, NewResolver())
	if !errors.Is(err, ErrSubMsgFailure) {
		t.Fatalf("err = %v, want ErrSubMsgFailure", err)
	}
	if !errors.Is(err, host.ErrInsufficientFunds) {
		t.Errorf("err = %v, want cause preserved", err)
	}
	if n != 1 {
		t.Errorf("ran %d, want 1", n)
	}
	if len(sess.log) != 1 {
		t.Errorf("log = %v, later steps must not run", sess.log)
	}
}

func TestRun_UnknownContinuation(t *testing.T) {
	tests := []struct {
		name string
		step Step
	}{
		{"reply", DispatchReply(send("a"), "nope", nil)},
		{"call", Self("nope", nil)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess := &fakeSession{}
			_, err := Run(context.Background(), sess, New(tt.step), NewResolver())
			if !errors.Is(err, ErrUnknownContinuation) {
				t.Errorf("err = %v, want ErrUnknownContinuation", err)
			}
			if len(sess.log) != 0 {
				t.Errorf("dispatched %v before resolving the reply", sess.log)
			}
		})
	}
}

func TestRun_HandlerErrorAborts(t *testing.T) {
	boom := errors.New("boom")
	r := NewResolver()
	r.OnCall("fail", func(context.Context, Step) ([]Step, error) { return nil, boom })

	_, err := Run(context.Background(), &fakeSession{}, New(Self("fail", nil)), r)
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
}

func TestRun_EmptyStep(t *testing.T) {
	_, err := Run(context.Background(), &fakeSession{}, New(Step{}), NewResolver())
	if !errors.Is(err, ErrEmptyStep) {
		t.Errorf("err = %v, want ErrEmptyStep", err)
	}
}
