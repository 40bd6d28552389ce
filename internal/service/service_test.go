package service

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/neilotoole/slogt"

	"github.com/SteamVC/pairchat/internal/identity"
	"github.com/SteamVC/pairchat/internal/metrics"
	"github.com/SteamVC/pairchat/internal/models"
	"github.com/SteamVC/pairchat/internal/presence"
	"github.com/SteamVC/pairchat/internal/roomstore"
)

const room = "123456"

// recorder は送信されたイベントを接続ごとに記録する Notifier です
type recorder struct {
	mu     sync.Mutex
	events map[string][]models.Event
	closed []string
}

func newRecorder() *recorder {
	return &recorder{events: make(map[string][]models.Event)}
}

func (r *recorder) Send(conn string, ev models.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[conn] = append(r.events[conn], ev)
}

func (r *recorder) Close(conn string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = append(r.closed, conn)
}

// take は接続宛てのイベントを返して記録を空にします
func (r *recorder) take(conn string) []models.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	evs := r.events[conn]
	delete(r.events, conn)
	return evs
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = make(map[string][]models.Event)
}

func types(evs []models.Event) []string {
	out := make([]string, 0, len(evs))
	for _, ev := range evs {
		out = append(out, ev.Type)
	}
	return out
}

type fixture struct {
	svc   *ChatService
	clk   *clockwork.FakeClock
	rec   *recorder
	store *roomstore.Store
	ids   *identity.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := clockwork.NewFakeClockAt(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	rec := newRecorder()
	store := roomstore.New(clk)
	ids := identity.NewRegistry(clk)
	svc := NewChatService(Deps{
		Store:    store,
		Identity: ids,
		Typing:   presence.NewTracker(),
		Clock:    clk,
		Notifier: rec,
		Metrics:  metrics.New(),
		Logger:   slogt.New(t),
	}, Options{
		SettleDelay: 500 * time.Millisecond,
		RejoinDelay: 300 * time.Millisecond,
		IdentityTTL: 24 * time.Hour,
	})
	return &fixture{svc: svc, clk: clk, rec: rec, store: store, ids: ids}
}

func (f *fixture) join(t *testing.T, conn, name string) {
	t.Helper()
	if err := f.svc.Join(conn, JoinRequest{Code: room, DesiredName: name, Token: "tok-" + conn}); err != nil {
		t.Fatalf("Join(%s): %v", conn, err)
	}
}

func (f *fixture) send(t *testing.T, conn, body string) uint64 {
	t.Helper()
	id, err := f.svc.SendMessage(conn, SendRequest{RoomCode: room, Body: body})
	if err != nil {
		t.Fatalf("SendMessage(%s): %v", conn, err)
	}
	return id
}

// advance は時計を進め、実行予定時刻を過ぎた遅延処理が終わるまで待ちます
func (f *fixture) advance(t *testing.T, d time.Duration) {
	t.Helper()
	f.clk.Advance(d)
	now := f.clk.Now()
	deadline := time.Now().Add(2 * time.Second)
	for f.svc.overdue(now) > 0 {
		if time.Now().After(deadline) {
			t.Fatalf("%d scheduled tasks still running after advancing to %v", f.svc.overdue(now), now)
		}
		time.Sleep(time.Millisecond)
	}
}

// pair は a と b を同じルームに参加させ、記録をリセットします
func (f *fixture) pair(t *testing.T) {
	t.Helper()
	f.join(t, "a", "Alice")
	f.join(t, "b", "Bob")
	f.advance(t, time.Second)
	f.rec.reset()
}

func (f *fixture) message(t *testing.T, id uint64) models.Message {
	t.Helper()
	var out models.Message
	err := f.store.With(room, func(r *roomstore.Room) error {
		m, ok := r.Message(id)
		if !ok {
			return ErrMessageNotFound
		}
		out = m.Clone()
		return nil
	})
	if err != nil {
		t.Fatalf("message %d: %v", id, err)
	}
	return out
}

func statusUpdates(evs []models.Event) []models.StatusUpdatePayload {
	var out []models.StatusUpdatePayload
	for _, ev := range evs {
		if ev.Type == models.EventMessageStatusUpdate {
			out = append(out, ev.Payload.(models.StatusUpdatePayload))
		}
	}
	return out
}

func TestJoinSendsSnapshotAndNotifiesOthers(t *testing.T) {
	f := newFixture(t)
	f.join(t, "a", "Alice")

	evs := f.rec.take("a")
	if diff := cmp.Diff([]string{models.EventRoomJoined}, types(evs)); diff != "" {
		t.Fatalf("events to joiner (-want +got):\n%s", diff)
	}
	joined := evs[0].Payload.(models.RoomJoinedPayload)
	if joined.Name != "Alice" || joined.ParticipantCount != 1 || joined.Token != "tok-a" {
		t.Errorf("room-joined = %+v", joined)
	}
	if len(joined.Messages) != 0 {
		t.Errorf("first joiner snapshot = %+v, want no messages", joined.Messages)
	}

	f.join(t, "b", "Bob")
	evs = f.rec.take("a")
	if diff := cmp.Diff([]string{models.EventUserJoined, models.EventNewMessage}, types(evs)); diff != "" {
		t.Errorf("events to existing participant (-want +got):\n%s", diff)
	}
	if sys := evs[1].Payload.(models.Message); sys.Kind != models.KindSystem || sys.Body != "Bob joined the chat" || sys.Status != models.StatusNone {
		t.Errorf("join message = %+v", sys)
	}

	// 後から参加した側のスナップショットには自分の参加メッセージが含まれない
	joined = f.rec.take("b")[0].Payload.(models.RoomJoinedPayload)
	var bodies []string
	for _, m := range joined.Messages {
		bodies = append(bodies, m.Body)
	}
	if diff := cmp.Diff([]string{"Alice joined the chat"}, bodies); diff != "" {
		t.Errorf("second joiner snapshot (-want +got):\n%s", diff)
	}
}

func TestSnapshotIncludesTypingNames(t *testing.T) {
	f := newFixture(t)
	f.join(t, "a", "Alice")
	if err := f.svc.TypingStart("a", room); err != nil {
		t.Fatal(err)
	}
	f.join(t, "b", "Bob")

	joined := f.rec.take("b")[0].Payload.(models.RoomJoinedPayload)
	if diff := cmp.Diff([]string{"Alice"}, joined.TypingNames); diff != "" {
		t.Errorf("typing names in snapshot (-want +got):\n%s", diff)
	}
}

func TestThirdJoinIsRejected(t *testing.T) {
	f := newFixture(t)
	f.pair(t)

	err := f.svc.Join("c", JoinRequest{Code: room, DesiredName: "Carol", Token: "tok-c"})
	if !errors.Is(err, ErrRoomFull) {
		t.Fatalf("third join error = %v, want ErrRoomFull", err)
	}
	sum, ok := f.store.Summary(room)
	if !ok || sum.ParticipantCount != 2 {
		t.Errorf("room after rejected join = %+v, %v", sum, ok)
	}
	if evs := append(f.rec.take("a"), f.rec.take("b")...); len(evs) != 0 {
		t.Errorf("rejected join broadcast %v", types(evs))
	}
	if _, ok := f.svc.RoomOf("c"); ok {
		t.Error("rejected connection recorded as in room")
	}
}

func TestInvalidRoomCode(t *testing.T) {
	f := newFixture(t)
	err := f.svc.Join("a", JoinRequest{Code: "12ab56"})
	if !errors.Is(err, ErrInvalidRoomCode) {
		t.Errorf("Join error = %v, want ErrInvalidRoomCode", err)
	}
}

func TestNameCollisionIsDisambiguated(t *testing.T) {
	f := newFixture(t)
	f.join(t, "a", "Sam")
	f.rec.reset()
	f.join(t, "b", "Sam")

	joined := f.rec.take("b")[0].Payload.(models.RoomJoinedPayload)
	if !strings.HasPrefix(joined.Name, "Sam_") {
		t.Errorf("second Sam joined as %q", joined.Name)
	}
	names := []string{joined.Participants[0].Name, joined.Participants[1].Name}
	if names[0] == names[1] {
		t.Errorf("participants share a name: %v", names)
	}
}

func TestRejoinKeepsProfile(t *testing.T) {
	f := newFixture(t)
	f.join(t, "a", "")
	first := f.rec.take("a")[0].Payload.(models.RoomJoinedPayload)
	f.svc.Disconnect("a")

	if err := f.svc.Join("a2", JoinRequest{Code: room, Token: "tok-a"}); err != nil {
		t.Fatal(err)
	}
	again := f.rec.take("a2")[0].Payload.(models.RoomJoinedPayload)
	if again.Name != first.Name || again.AvatarColor != first.AvatarColor || again.Status != first.Status || again.UserID != first.UserID {
		t.Errorf("rejoined profile = %+v, want %+v", again, first)
	}
}

func TestMessageIsDeliveredAfterSettleDelay(t *testing.T) {
	f := newFixture(t)
	f.pair(t)

	id := f.send(t, "a", "  hi  ")
	if m := f.message(t, id); m.Status != models.StatusSent || m.Body != "hi" {
		t.Fatalf("new message = %+v", m)
	}
	for _, conn := range []string{"a", "b"} {
		if diff := cmp.Diff([]string{models.EventNewMessage}, types(f.rec.take(conn))); diff != "" {
			t.Errorf("events to %s (-want +got):\n%s", conn, diff)
		}
	}

	f.advance(t, 499*time.Millisecond)
	if m := f.message(t, id); m.Status != models.StatusSent {
		t.Fatalf("status before settle delay = %v", m.Status)
	}
	if n := f.svc.Scheduled(); n != 1 {
		t.Errorf("Scheduled() = %d, want 1", n)
	}
	f.advance(t, time.Millisecond)
	if n := f.svc.Scheduled(); n != 0 {
		t.Errorf("Scheduled() after settle delay = %d, want 0", n)
	}

	want := []models.StatusUpdatePayload{{ID: id, Status: models.StatusDelivered}}
	for _, conn := range []string{"a", "b"} {
		if diff := cmp.Diff(want, statusUpdates(f.rec.take(conn))); diff != "" {
			t.Errorf("status updates to %s (-want +got):\n%s", conn, diff)
		}
	}
	if m := f.message(t, id); m.Status != models.StatusDelivered {
		t.Errorf("status = %v, want delivered", m.Status)
	}
}

func TestSeenRules(t *testing.T) {
	f := newFixture(t)
	f.pair(t)
	id := f.send(t, "a", "hi")
	f.rec.reset()

	// 送信者本人の既読通知は無視される
	if err := f.svc.Seen("a", room, id); err != nil {
		t.Fatal(err)
	}
	if evs := f.rec.take("b"); len(evs) != 0 {
		t.Errorf("sender seen broadcast %v", types(evs))
	}

	// sent から直接 seen に進める
	if err := f.svc.Seen("b", room, id); err != nil {
		t.Fatal(err)
	}
	want := []models.StatusUpdatePayload{{ID: id, Status: models.StatusSeen}}
	if diff := cmp.Diff(want, statusUpdates(f.rec.take("a"))); diff != "" {
		t.Errorf("status updates (-want +got):\n%s", diff)
	}
	f.rec.reset()

	// 再度の既読通知と、後から発火する delivered のタイマーは何もしない
	if err := f.svc.Seen("b", room, id); err != nil {
		t.Fatal(err)
	}
	f.advance(t, time.Second)
	if evs := append(f.rec.take("a"), f.rec.take("b")...); len(evs) != 0 {
		t.Errorf("unexpected events after seen: %v", types(evs))
	}
	if m := f.message(t, id); m.Status != models.StatusSeen {
		t.Errorf("status = %v, want seen", m.Status)
	}

	if err := f.svc.Seen("b", room, 999); !errors.Is(err, ErrMessageNotFound) {
		t.Errorf("Seen(missing) error = %v", err)
	}
}

func TestSystemMessagesNeverTransition(t *testing.T) {
	f := newFixture(t)
	f.pair(t)
	// ID 1 は Alice の参加メッセージ
	if err := f.svc.Seen("b", room, 1); err != nil {
		t.Fatal(err)
	}
	if m := f.message(t, 1); m.Kind != models.KindSystem || m.Status != models.StatusNone {
		t.Errorf("system message = %+v", m)
	}
	if evs := f.rec.take("a"); len(evs) != 0 {
		t.Errorf("system message transition broadcast %v", types(evs))
	}
}

func TestLastDisconnectDeletesRoom(t *testing.T) {
	f := newFixture(t)
	f.pair(t)
	f.send(t, "a", "hi")

	f.svc.Disconnect("a")
	if diff := cmp.Diff([]string{models.EventUserLeft}, types(f.rec.take("b"))); diff != "" {
		t.Errorf("events to remaining participant (-want +got):\n%s", diff)
	}
	f.svc.Disconnect("b")
	if f.store.Exists(room) {
		t.Fatal("room still exists after last disconnect")
	}

	// 予約済みのタイマーがルームを復活させない
	f.advance(t, time.Second)
	if f.store.Exists(room) {
		t.Error("pending timer recreated the room")
	}
}

func TestRejoinPromotesUndeliveredMessages(t *testing.T) {
	f := newFixture(t)
	f.pair(t)
	id := f.send(t, "a", "are you there?")

	f.svc.Disconnect("b")
	if err := f.svc.Join("b2", JoinRequest{Code: room, Token: "tok-b"}); err != nil {
		t.Fatal(err)
	}
	f.rec.reset()

	f.advance(t, 300*time.Millisecond)
	if m := f.message(t, id); m.Status != models.StatusDelivered {
		t.Fatalf("status after rejoin = %v, want delivered", m.Status)
	}
	want := []models.StatusUpdatePayload{{ID: id, Status: models.StatusDelivered}}
	if diff := cmp.Diff(want, statusUpdates(f.rec.take("b2"))); diff != "" {
		t.Errorf("status updates (-want +got):\n%s", diff)
	}

	// settle delay のタイマーは既に delivered なので通知しない
	f.advance(t, time.Second)
	if ups := statusUpdates(f.rec.take("a")); len(ups) != 1 {
		t.Errorf("status updates to sender = %+v, want exactly one", ups)
	}
}

func TestRebindReplacesStaleConnection(t *testing.T) {
	f := newFixture(t)
	f.pair(t)

	// Alice が新しい接続から同じトークンで再接続する
	if err := f.svc.Join("a2", JoinRequest{Code: room, Token: "tok-a"}); err != nil {
		t.Fatalf("reconnect rejected: %v", err)
	}
	if diff := cmp.Diff([]string{"a"}, f.rec.closed); diff != "" {
		t.Errorf("closed connections (-want +got):\n%s", diff)
	}
	if _, ok := f.svc.RoomOf("a"); ok {
		t.Error("stale connection still in room")
	}
	if diff := cmp.Diff([]string{models.EventUserLeft, models.EventUserJoined, models.EventNewMessage}, types(f.rec.take("b"))); diff != "" {
		t.Errorf("events to peer (-want +got):\n%s", diff)
	}

	// 古い接続の切断処理は新しい対応を壊さない
	f.svc.Disconnect("a")
	if tok, ok := f.ids.TokenOf("a2"); !ok || tok != "tok-a" {
		t.Errorf("a2 bound to %q, want tok-a", tok)
	}
	if sum, _ := f.store.Summary(room); sum.ParticipantCount != 2 {
		t.Errorf("participants = %d, want 2", sum.ParticipantCount)
	}
}

func TestEditMessage(t *testing.T) {
	f := newFixture(t)
	f.pair(t)
	id := f.send(t, "a", "helo")

	if err := f.svc.Edit("b", room, id, "hacked"); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("edit by other error = %v, want ErrUnauthorized", err)
	}
	if err := f.svc.Edit("a", room, id, "hello "); err != nil {
		t.Fatal(err)
	}
	m := f.message(t, id)
	if m.Body != "hello " || !m.Edited || m.EditedAt == nil {
		t.Errorf("edited message = %+v", m)
	}
	for _, conn := range []string{"a", "b"} {
		evs := f.rec.take(conn)
		last := evs[len(evs)-1]
		if last.Type != models.EventMessageEdited || last.Payload.(models.MessageEditedPayload).NewBody != "hello " {
			t.Errorf("last event to %s = %+v", conn, last)
		}
	}

	voice, err := f.svc.SendVoice("a", VoiceRequest{RoomCode: room, AudioBlob: "data:audio/webm;base64,AAAA", DurationSeconds: 3})
	if err != nil {
		t.Fatal(err)
	}
	if m := f.message(t, voice); m.Body != "Voice message (3s)" || m.Media == nil || m.Media.Duration != 3 {
		t.Errorf("voice message = %+v", m)
	}
	if err := f.svc.Edit("a", room, voice, "text"); !errors.Is(err, ErrNotEditable) {
		t.Errorf("edit voice error = %v, want ErrNotEditable", err)
	}
}

func TestDeleteForEveryoneIsVisibleToLaterJoiners(t *testing.T) {
	f := newFixture(t)
	f.pair(t)
	id, err := f.svc.SendMessage("a", SendRequest{
		RoomCode: room,
		Kind:     models.KindImage,
		Body:     "cat",
		Media:    &models.Media{Data: "data:image/png;base64,AAAA", Name: "cat.png"},
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := f.svc.Delete("b", room, id, true); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("delete by other error = %v, want ErrUnauthorized", err)
	}
	if err := f.svc.Delete("a", room, id, true); err != nil {
		t.Fatal(err)
	}
	f.rec.reset()
	// 2回目は何もしない
	if err := f.svc.Delete("a", room, id, true); err != nil {
		t.Fatal(err)
	}
	if evs := f.rec.take("b"); len(evs) != 0 {
		t.Errorf("repeated delete broadcast %v", types(evs))
	}

	f.svc.Disconnect("b")
	f.join(t, "c", "Carol")
	joined := f.rec.take("c")[0].Payload.(models.RoomJoinedPayload)
	var got *models.Message
	for i := range joined.Messages {
		if joined.Messages[i].ID == id {
			got = &joined.Messages[i]
		}
	}
	if got == nil {
		t.Fatal("deleted message missing from snapshot")
	}
	if got.Kind != models.KindDeleted || got.Body != models.DeletedPlaceholder || got.Media != nil {
		t.Errorf("deleted message in snapshot = %+v", got)
	}
}

func TestDeleteForMeOnlyNotifiesRequester(t *testing.T) {
	f := newFixture(t)
	f.pair(t)
	id := f.send(t, "a", "hi")
	f.rec.reset()

	if err := f.svc.Delete("b", room, id, false); err != nil {
		t.Fatal(err)
	}
	want := []models.Event{{Type: models.EventMessageDeleted, Payload: models.MessageDeletedPayload{ID: id}}}
	if diff := cmp.Diff(want, f.rec.take("b")); diff != "" {
		t.Errorf("events to requester (-want +got):\n%s", diff)
	}
	if evs := f.rec.take("a"); len(evs) != 0 {
		t.Errorf("delete for me reached sender: %v", types(evs))
	}
	if m := f.message(t, id); m.Kind != models.KindText || m.Body != "hi" {
		t.Errorf("message mutated: %+v", m)
	}
}

func TestReactionIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.pair(t)
	id := f.send(t, "a", "hi")
	f.rec.reset()

	for i := 0; i < 2; i++ {
		if err := f.svc.React("b", room, id, "👍"); err != nil {
			t.Fatal(err)
		}
	}
	evs := f.rec.take("a")
	if len(evs) != 1 {
		t.Fatalf("reaction events = %v, want one", types(evs))
	}
	want := models.ReactionUpdatePayload{ID: id, Reactions: map[string][]string{"👍": {"Bob"}}}
	if diff := cmp.Diff(want, evs[0].Payload); diff != "" {
		t.Errorf("reaction update (-want +got):\n%s", diff)
	}
	if err := f.svc.React("b", room, 404, "👍"); !errors.Is(err, ErrMessageNotFound) {
		t.Errorf("react to missing error = %v", err)
	}
}

func TestForward(t *testing.T) {
	f := newFixture(t)
	f.pair(t)
	id := f.send(t, "a", "look at this")

	const other = "654321"
	if err := f.svc.Join("c", JoinRequest{Code: other, DesiredName: "Carol", Token: "tok-c"}); err != nil {
		t.Fatal(err)
	}

	fwd, err := f.svc.Forward("a", room, other, id)
	if err != nil {
		t.Fatal(err)
	}
	var got models.Message
	_ = f.store.With(other, func(r *roomstore.Room) error {
		m, _ := r.Message(fwd)
		got = m.Clone()
		return nil
	})
	if got.Body != "look at this" || got.ForwardedFrom != "Alice" || got.SenderName != "Alice" || got.Status != models.StatusSent {
		t.Errorf("forwarded message = %+v", got)
	}

	tests := []struct {
		name     string
		conn     string
		from, to string
		id       uint64
		want     error
	}{
		{"missing source room", "a", "999999", other, id, ErrRoomNotFound},
		{"missing destination room", "a", room, "999999", id, ErrRoomNotFound},
		{"missing message", "a", room, other, 404, ErrMessageNotFound},
		{"system message", "a", room, other, 1, ErrNotForwardable},
		{"outsider", "z", room, other, id, ErrNotParticipant},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.svc.Forward(tt.conn, tt.from, tt.to, tt.id); !errors.Is(err, tt.want) {
				t.Errorf("Forward error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSendValidation(t *testing.T) {
	f := newFixture(t)
	f.pair(t)

	tests := []struct {
		name string
		conn string
		req  SendRequest
		want error
	}{
		{"blank text", "a", SendRequest{RoomCode: room, Body: "   "}, ErrInvalidMessage},
		{"system kind", "a", SendRequest{RoomCode: room, Body: "x", Kind: models.KindSystem}, ErrInvalidMessage},
		{"image without media", "a", SendRequest{RoomCode: room, Kind: models.KindImage}, ErrInvalidMessage},
		{"unknown reply", "a", SendRequest{RoomCode: room, Body: "x", ReplyTo: 77}, ErrMessageNotFound},
		{"not in room", "z", SendRequest{RoomCode: room, Body: "x"}, ErrNotParticipant},
		{"missing room", "a", SendRequest{RoomCode: "000000", Body: "x"}, ErrRoomNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.svc.SendMessage(tt.conn, tt.req); !errors.Is(err, tt.want) {
				t.Errorf("SendMessage error = %v, want %v", err, tt.want)
			}
		})
	}
	if evs := f.rec.take("b"); len(evs) != 0 {
		t.Errorf("failed sends broadcast %v", types(evs))
	}
}

func TestTypingAndStatus(t *testing.T) {
	f := newFixture(t)
	f.pair(t)

	if err := f.svc.TypingStart("a", room); err != nil {
		t.Fatal(err)
	}
	want := []models.Event{{Type: models.EventUserTyping, Payload: models.UserTypingPayload{TypingNames: []string{"Alice"}}}}
	if diff := cmp.Diff(want, f.rec.take("b")); diff != "" {
		t.Errorf("typing events (-want +got):\n%s", diff)
	}
	if evs := f.rec.take("a"); len(evs) != 0 {
		t.Errorf("typing echoed to typist: %v", types(evs))
	}

	// 切断すると入力中の一覧からも消える
	f.svc.Disconnect("a")
	evs := f.rec.take("b")
	if diff := cmp.Diff([]string{models.EventUserLeft, models.EventUserTyping}, types(evs)); diff != "" {
		t.Fatalf("events after disconnect (-want +got):\n%s", diff)
	}
	if names := evs[1].Payload.(models.UserTypingPayload).TypingNames; len(names) != 0 {
		t.Errorf("typing names after disconnect = %v", names)
	}

	if err := f.svc.UpdateStatus("b", room, "Out for lunch"); err != nil {
		t.Fatal(err)
	}
	if id, _ := f.ids.Recall("tok-b"); id.StatusText != "Out for lunch" {
		t.Errorf("identity status = %q", id.StatusText)
	}
	if err := f.svc.TypingStart("a", room); !errors.Is(err, ErrNotParticipant) {
		t.Errorf("typing after leave error = %v", err)
	}
}

func TestLeaveRoom(t *testing.T) {
	f := newFixture(t)
	f.pair(t)
	if err := f.svc.Leave("a", "999999"); !errors.Is(err, ErrNotParticipant) {
		t.Errorf("Leave(other room) error = %v", err)
	}
	if err := f.svc.Leave("a", room); err != nil {
		t.Fatal(err)
	}
	if tok, ok := f.ids.TokenOf("a"); !ok || tok != "tok-a" {
		t.Error("leave-room should keep the identity binding")
	}
}

func TestOnSweepCleansUp(t *testing.T) {
	f := newFixture(t)
	f.pair(t)
	f.svc.Identify("idle", "tok-idle")
	f.svc.Disconnect("idle")

	f.advance(t, 25*time.Hour)
	reaper := &roomstore.Reaper{
		Store:   f.store,
		Clock:   f.clk,
		TTL:     30 * time.Minute,
		Logger:  slogt.New(t),
		OnSweep: f.svc.OnSweep,
	}
	if reaped := reaper.SweepOnce(); len(reaped) != 1 || reaped[0].Code != room {
		t.Errorf("reaped = %+v", reaped)
	}
	if _, ok := f.svc.RoomOf("a"); ok {
		t.Error("connection still mapped to reaped room")
	}
	if _, ok := f.ids.Recall("tok-idle"); ok {
		t.Error("idle identity not evicted")
	}
	if _, ok := f.ids.Recall("tok-a"); !ok {
		t.Error("connected identity evicted")
	}
	if _, err := f.svc.SendMessage("a", SendRequest{RoomCode: room, Body: "hi"}); !errors.Is(err, ErrRoomNotFound) {
		t.Errorf("send to reaped room error = %v", err)
	}
}

func TestIdentifyIssuesToken(t *testing.T) {
	f := newFixture(t)
	id := f.svc.Identify("a", "")
	if id.Token == "" || id.ID == "" {
		t.Fatalf("identity = %+v", id)
	}
	evs := f.rec.take("a")
	if len(evs) != 1 || evs[0].Type != models.EventIdentified {
		t.Fatalf("events = %v", types(evs))
	}
	if p := evs[0].Payload.(models.IdentifiedPayload); p.Token != id.Token || p.UserID != id.ID {
		t.Errorf("identified = %+v", p)
	}
	// 同じ接続からトークンなしで再度名乗ると既存のトークンを使う
	if again := f.svc.Identify("a", ""); again.Token != id.Token {
		t.Errorf("token changed to %q", again.Token)
	}
}

func TestSweepLeavesRecreatedRoomAttached(t *testing.T) {
	f := newFixture(t)
	f.join(t, "a", "Alice")
	if err := f.svc.TypingStart("a", room); err != nil {
		t.Fatal(err)
	}
	f.advance(t, 31*time.Minute)
	reaped := f.store.Reap(30 * time.Minute)

	// 削除から後片付けまでの間に同じコードでルームが作り直される
	f.join(t, "c", "Carol")
	if err := f.svc.TypingStart("c", room); err != nil {
		t.Fatal(err)
	}
	f.svc.OnSweep(f.clk.Now(), reaped)

	if _, ok := f.svc.RoomOf("a"); ok {
		t.Error("reaped connection still mapped")
	}
	if code, ok := f.svc.RoomOf("c"); !ok || code != room {
		t.Fatalf("RoomOf(c) = %q, %v; want %s", code, ok, room)
	}
	if diff := cmp.Diff([]string{"Carol"}, f.svc.typing.Names(room)); diff != "" {
		t.Errorf("typing names after sweep (-want +got):\n%s", diff)
	}

	f.svc.Disconnect("c")
	if f.store.Exists(room) {
		t.Error("recreated room left behind after its only participant disconnected")
	}
}
