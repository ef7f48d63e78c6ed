package command

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"moyubot/internal/calendar"
	"moyubot/internal/storage"
	"moyubot/internal/subscription"
	logx "moyubot/pkg/logx"
)

func TestParse(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want Intent
		err  error
	}{
		{in: "摸鱼", want: Intent{Kind: KindQuery}},
		{in: "  摸鱼  ", want: Intent{Kind: KindQuery}},
		{in: "/moyu", want: Intent{Kind: KindQuery}},
		{in: "/moyu@MoyuBot", want: Intent{Kind: KindQuery}},
		{in: "摸鱼 状态", want: Intent{Kind: KindStatus}},
		{in: "摸鱼状态", want: Intent{Kind: KindStatus}},
		{in: "/moyu status", want: Intent{Kind: KindStatus}},
		{in: "摸鱼 设置 9:30", want: Intent{Kind: KindSetSchedule, Hour: 9, Minute: 30}},
		{in: "摸鱼推送 18：05", want: Intent{Kind: KindSetSchedule, Hour: 18, Minute: 5}},
		{in: "摸鱼 设置 0.0", want: Intent{Kind: KindSetSchedule, Hour: 0, Minute: 0}},
		{in: "摸鱼 设置 23:59", want: Intent{Kind: KindSetSchedule, Hour: 23, Minute: 59}},
		{in: "/moyu@bot set 7:5", want: Intent{Kind: KindSetSchedule, Hour: 7, Minute: 5}},
		{in: "摸鱼 禁用", want: Intent{Kind: KindDisable}},
		{in: "摸鱼关闭", want: Intent{Kind: KindDisable}},
		{in: "摸鱼 禁用 all", want: Intent{Kind: KindDisableAll}},
		{in: "摸鱼 关闭 ALL", want: Intent{Kind: KindDisableAll}},
		{in: "摸鱼 帮助", want: Intent{Kind: KindHelp}},
		{in: "摸鱼 设置 24:00", err: &ValidationError{}},
		{in: "摸鱼 设置 0:60", err: &ValidationError{}},
		{in: "摸鱼 设置 9", err: &ValidationError{}},
		{in: "摸鱼 set 9:30pm", err: &ValidationError{}},
		{in: "摸鱼 设置 nine", err: ErrNoMatch},
		{in: "摸鱼 设置", err: ErrNoMatch},
		{in: "摸鱼 settings", err: ErrNoMatch},
		{in: "摸鱼 setup", err: ErrNoMatch},
		{in: "摸鱼 推送时间是几点", err: ErrNoMatch},
		{in: "hello", err: ErrNoMatch},
		{in: "今天摸鱼", err: ErrNoMatch},
		{in: "摸鱼人生", err: ErrNoMatch},
		{in: "摸鱼 禁用 some", err: ErrNoMatch},
		{in: "/moyus", err: ErrNoMatch},
		{in: "", err: ErrNoMatch},
	}
	for _, tt := range tests {
		got, err := Parse(tt.in)
		switch want := tt.err.(type) {
		case nil:
			if err != nil {
				t.Fatalf("Parse(%q) error: %v", tt.in, err)
			}
			if got != tt.want {
				t.Fatalf("Parse(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
		case *ValidationError:
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("Parse(%q) err = %v, want ValidationError", tt.in, err)
			}
		default:
			if !errors.Is(err, want) {
				t.Fatalf("Parse(%q) err = %v, want %v", tt.in, err, want)
			}
		}
	}
}

type fakeSubs struct {
	set     subscription.Set
	saveErr error
}

func (f *fakeSubs) Subscribe(ctx context.Context, g subscription.GroupID, h, m int) (subscription.Subscription, error) {
	sub := subscription.Subscription{Hour: h, Minute: m}
	if err := sub.Validate(); err != nil {
		return subscription.Subscription{}, err
	}
	if f.saveErr != nil {
		return subscription.Subscription{}, f.saveErr
	}
	f.set[g] = sub
	return sub, nil
}

func (f *fakeSubs) Unsubscribe(ctx context.Context, g subscription.GroupID) error {
	if _, ok := f.set[g]; !ok {
		return subscription.ErrNotSubscribed
	}
	if f.saveErr != nil {
		return f.saveErr
	}
	delete(f.set, g)
	return nil
}

func (f *fakeSubs) UnsubscribeAll(ctx context.Context) (int, error) {
	if f.saveErr != nil {
		return 0, f.saveErr
	}
	n := len(f.set)
	f.set = subscription.Set{}
	return n, nil
}

func (f *fakeSubs) Status(g subscription.GroupID) subscription.Status {
	sub, ok := f.set[g]
	if !ok {
		return subscription.Status{}
	}
	return subscription.Status{Enabled: true, Hour: sub.Hour, Minute: sub.Minute}
}

type fakeFetcher struct {
	img []byte
	err error
}

func (f fakeFetcher) Fetch(ctx context.Context) ([]byte, error) { return f.img, f.err }

type recAudit struct {
	mu      sync.Mutex
	entries []storage.AuditEntry
}

func (r *recAudit) AppendAudit(ctx context.Context, e storage.AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return nil
}

func group(text string) Request {
	return Request{ChatID: -100, FromID: 7, Username: "alice", IsGroup: true, Text: text}
}

func TestDispatcherFlow(t *testing.T) {
	t.Parallel()
	subs := &fakeSubs{set: subscription.Set{}}
	audit := &recAudit{}
	d := NewDispatcher(subs, fakeFetcher{img: []byte("img")}, audit, nil, logx.Nop())
	ctx := context.Background()

	steps := []struct {
		text string
		want string
	}{
		{text: "摸鱼 状态", want: "摸鱼日历状态：\n每日推送: 已关闭"},
		{text: "摸鱼 禁用", want: "本群未开启摸鱼日历推送"},
		{text: "摸鱼 设置 9:05", want: "本群摸鱼日历推送时间设置成功：9:05"},
		{text: "摸鱼 状态", want: "摸鱼日历状态：\n每日推送: 已开启\n推送时间: 9:05"},
		{text: "摸鱼 推送 18:30", want: "本群摸鱼日历推送时间设置成功：18:30"},
		{text: "摸鱼 禁用", want: "本群摸鱼日历推送已禁用"},
		{text: "摸鱼 禁用 all", want: "所有摸鱼日历推送已禁用"},
		{text: "摸鱼 设置 24:00", want: textBadTime},
	}
	for _, st := range steps {
		rep, err := d.Handle(ctx, group(st.text))
		if err != nil {
			t.Fatalf("%s: %v", st.text, err)
		}
		if rep.Text != st.want {
			t.Fatalf("%s: reply %q, want %q", st.text, rep.Text, st.want)
		}
	}
	if len(subs.set) != 0 {
		t.Fatalf("set = %+v, want empty", subs.set)
	}

	if len(audit.entries) != len(steps) {
		t.Fatalf("audit entries = %d, want %d", len(audit.entries), len(steps))
	}
	if e := audit.entries[2]; e.Action != "set_schedule" || !e.OK || e.Target != "-100@9:05" || e.ActorUsername != "alice" {
		t.Fatalf("unexpected audit entry: %+v", e)
	}
	if e := audit.entries[1]; e.OK || e.Error == "" {
		t.Fatalf("failed disable should be audited as failure: %+v", e)
	}
}

func TestDispatcherQuery(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	d := NewDispatcher(&fakeSubs{set: subscription.Set{}}, fakeFetcher{img: []byte("png")}, nil, nil, logx.Nop())
	rep, err := d.Handle(ctx, Request{ChatID: 5, Text: "摸鱼"})
	if err != nil || string(rep.Image) != "png" {
		t.Fatalf("query in private chat = %+v, %v", rep, err)
	}

	d = NewDispatcher(&fakeSubs{set: subscription.Set{}}, fakeFetcher{err: &calendar.FetchError{StatusCode: 502}}, nil, nil, logx.Nop())
	rep, _ = d.Handle(ctx, group("摸鱼"))
	if rep.Text != "摸鱼日历获取失败，错误码：502" || rep.Image != nil {
		t.Fatalf("reply = %+v", rep)
	}

	d = NewDispatcher(&fakeSubs{set: subscription.Set{}}, fakeFetcher{err: &calendar.FetchError{Err: errors.New("dial tcp: refused")}}, nil, nil, logx.Nop())
	rep, _ = d.Handle(ctx, group("摸鱼"))
	if !strings.HasPrefix(rep.Text, "摸鱼日历获取失败") {
		t.Fatalf("reply = %+v", rep)
	}
}

func TestDispatcherScopes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	subs := &fakeSubs{set: subscription.Set{-100: {Hour: 1, Minute: 0}}}
	d := NewDispatcher(subs, fakeFetcher{}, nil, []int64{1}, logx.Nop())

	rep, err := d.Handle(ctx, Request{ChatID: 7, FromID: 7, Text: "摸鱼 设置 9:00"})
	if err != nil || rep.Text != textGroupOnly {
		t.Fatalf("private set = %+v, %v", rep, err)
	}
	if len(subs.set) != 1 {
		t.Fatal("private chat must not subscribe")
	}

	rep, _ = d.Handle(ctx, group("摸鱼 禁用 all"))
	if rep.Text != textOwnerOnly || len(subs.set) != 1 {
		t.Fatalf("non-owner disable all = %+v, set=%v", rep, subs.set)
	}
	req := group("摸鱼 禁用 all")
	req.FromID = 1
	rep, _ = d.Handle(ctx, req)
	if rep.Text != textDisabledAll || len(subs.set) != 0 {
		t.Fatalf("owner disable all = %+v", rep)
	}

	rep, err = d.Handle(ctx, Request{ChatID: 7, Text: "摸鱼 帮助"})
	if err != nil || !strings.Contains(rep.Text, "摸鱼 状态") {
		t.Fatalf("help = %+v, %v", rep, err)
	}

	if _, err := d.Handle(ctx, group("just chatting")); !errors.Is(err, ErrNoMatch) {
		t.Fatalf("err = %v, want ErrNoMatch", err)
	}
}

func TestDispatcherStorageFailure(t *testing.T) {
	t.Parallel()
	subs := &fakeSubs{set: subscription.Set{}, saveErr: subscription.ErrStorage}
	d := NewDispatcher(subs, fakeFetcher{}, nil, nil, logx.Nop())
	rep, _ := d.Handle(context.Background(), group("摸鱼 设置 8:00"))
	if rep.Text != textSaveFailed {
		t.Fatalf("reply = %q", rep.Text)
	}
	if subs.Status(-100).Enabled {
		t.Fatal("failed save must not subscribe")
	}
}
