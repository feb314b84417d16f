package events

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestBufferReplayAfterFiltersByAddress(t *testing.T) {
	buf := NewBuffer(10)
	buf.Append(New(KindDepositCredited, "t1", "bc1a", nil))
	buf.Append(New(KindDepositCredited, "t2", "bc1b", nil))
	third := buf.Append(New(KindWithdrawalResolved, "w1", "bc1a", nil))

	all := buf.ReplayAfter("bc1a", "")
	if len(all) != 2 {
		t.Fatalf("replay all = %d", len(all))
	}
	after := buf.ReplayAfter("bc1a", "1")
	if len(after) != 1 || after[0].Seq != third.Seq {
		t.Fatalf("replay after = %+v", after)
	}
}

func TestBufferTrimsToMax(t *testing.T) {
	buf := NewBuffer(2)
	for i := 0; i < 5; i++ {
		buf.Append(New(KindAlertRaised, "k", "", nil))
	}
	got := buf.ReplayAfter("", "")
	if len(got) != 2 || got[0].Seq != "4" || got[1].Seq != "5" {
		t.Fatalf("unexpected buffer %+v", got)
	}
}

func TestBufferSubscribeReceivesLive(t *testing.T) {
	buf := NewBuffer(10)
	ch := buf.Subscribe()
	buf.Append(New(KindAlertRaised, "k", "", nil))
	ev := <-ch
	if ev.Seq != "1" {
		t.Fatalf("unexpected seq %q", ev.Seq)
	}
	buf.Close()
	if _, ok := <-ch; ok {
		t.Fatalf("channel should close with buffer")
	}
}

func TestWriteSSE(t *testing.T) {
	rec := httptest.NewRecorder()
	ev := New(KindDepositCredited, "t1", "bc1a", map[string]any{"chip_amount": 10})
	ev.Seq = "7"
	if err := WriteSSE(rec, ev); err != nil {
		t.Fatalf("write: %v", err)
	}
	body := rec.Body.String()
	if !strings.HasPrefix(body, "id: 7\nevent: deposit_credited\ndata: {") || !strings.HasSuffix(body, "\n\n") {
		t.Fatalf("unexpected frame %q", body)
	}
}
