package bus

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/tendant/url-thumbnailer/pkg/schema"
)

type fakePublisher struct {
	subjects []string
	payloads [][]byte
	err      error
}

func (f *fakePublisher) PublishJSON(subject string, v any) error {
	if f.err != nil {
		return f.err
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	f.subjects = append(f.subjects, subject)
	f.payloads = append(f.payloads, b)
	return nil
}

func TestNotifierSubjects(t *testing.T) {
	pub := &fakePublisher{}
	n := NewNotifier(pub, "images.thumbnail.done", nil)

	n.Lifecycle(schema.TaskLifecycleEvent{TaskID: "t1", Stage: schema.StageFetch})
	n.TaskDone(schema.TaskDone{TaskID: "t1", Completed: true, Fingerprint: "abc"})

	if len(pub.subjects) != 2 {
		t.Fatalf("published %d messages, want 2", len(pub.subjects))
	}
	if pub.subjects[0] != "images.thumbnail.done.lifecycle" {
		t.Fatalf("lifecycle subject = %s", pub.subjects[0])
	}
	if pub.subjects[1] != "images.thumbnail.done" {
		t.Fatalf("done subject = %s", pub.subjects[1])
	}

	var done schema.TaskDone
	if err := json.Unmarshal(pub.payloads[1], &done); err != nil {
		t.Fatalf("decode done event: %v", err)
	}
	if done.TaskID != "t1" || !done.Completed || done.Fingerprint != "abc" {
		t.Fatalf("unexpected done event: %+v", done)
	}
}

func TestNotifierSwallowsPublishErrors(t *testing.T) {
	n := NewNotifier(&fakePublisher{err: errors.New("nats down")}, "s", nil)
	n.TaskDone(schema.TaskDone{TaskID: "t1"})
	n.Lifecycle(schema.TaskLifecycleEvent{TaskID: "t1"})
}

func TestConnectOptions(t *testing.T) {
	cfg := connectConfig{name: DefaultName, handlerTimeout: DefaultHandlerTimeout}
	WithName("thumbctl")(&cfg)
	WithHandlerTimeout(0)(&cfg)
	WithLogger(nil)(&cfg)

	if cfg.name != "thumbctl" {
		t.Fatalf("unexpected name: %s", cfg.name)
	}
	if cfg.handlerTimeout != DefaultHandlerTimeout {
		t.Fatalf("non-positive timeout must keep the default, got %s", cfg.handlerTimeout)
	}
	if cfg.logger != nil {
		t.Fatalf("nil logger must be ignored")
	}
}

func TestConnectUnreachable(t *testing.T) {
	_, err := Connect("nats://127.0.0.1:1")
	if err == nil {
		t.Fatal("expected error for unreachable server")
	}
}
