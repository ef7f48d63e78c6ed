package command

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"moyubot/internal/calendar"
	"moyubot/internal/storage"
	"moyubot/internal/subscription"
	logx "moyubot/pkg/logx"
)

// Subscriptions is the subset of *subscription.Manager the dispatcher drives.
type Subscriptions interface {
	Subscribe(ctx context.Context, g subscription.GroupID, hour, minute int) (subscription.Subscription, error)
	Unsubscribe(ctx context.Context, g subscription.GroupID) error
	UnsubscribeAll(ctx context.Context) (int, error)
	Status(g subscription.GroupID) subscription.Status
}

type Fetcher interface {
	Fetch(ctx context.Context) ([]byte, error)
}

// Auditor records handled commands. Optional.
type Auditor interface {
	AppendAudit(ctx context.Context, e storage.AuditEntry) error
}

// Request is one inbound chat message.
type Request struct {
	ChatID   int64
	FromID   int64
	Username string
	IsGroup  bool
	Text     string
}

// Reply is what goes back to the chat: text, or an image when Image is set.
type Reply struct {
	Text  string
	Image []byte
}

type Dispatcher struct {
	subs  Subscriptions
	fetch Fetcher
	audit Auditor
	log   logx.Logger

	mu     sync.RWMutex
	owners []int64
}

func NewDispatcher(subs Subscriptions, fetch Fetcher, audit Auditor, owners []int64, log logx.Logger) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dispatcher{subs: subs, fetch: fetch, audit: audit, owners: slices.Clone(owners), log: log}
}

// SetOwners replaces the users allowed to disable every group at once.
// An empty list lets anyone do it.
func (d *Dispatcher) SetOwners(ids []int64) {
	d.mu.Lock()
	d.owners = slices.Clone(ids)
	d.mu.Unlock()
}

// Handle parses req.Text and runs it. It returns ErrNoMatch for text that is
// not a command; every other outcome, including failures, is a Reply.
func (d *Dispatcher) Handle(ctx context.Context, req Request) (Reply, error) {
	in, err := Parse(req.Text)
	if errors.Is(err, ErrNoMatch) {
		return Reply{}, ErrNoMatch
	}
	start := time.Now()
	log := d.log.With(logx.Int64("chat_id", req.ChatID), logx.Int64("from_id", req.FromID))

	var ve *ValidationError
	if errors.As(err, &ve) {
		log.Debug("command rejected", logx.Err(err))
		d.record(ctx, req, KindSetSchedule.String(), "", start, err)
		return Reply{Text: textBadTime}, nil
	}

	if in.Kind.GroupOnly() && !req.IsGroup {
		return Reply{Text: textGroupOnly}, nil
	}

	rep, target, err := d.run(ctx, req, in)
	d.record(ctx, req, in.Kind.String(), target, start, err)
	if err != nil {
		log.Warn("command failed", logx.String("cmd", in.Kind.String()), logx.Duration("took", time.Since(start)), logx.Err(err))
	} else {
		log.Info("command ok", logx.String("cmd", in.Kind.String()), logx.Duration("took", time.Since(start)))
	}
	return rep, nil
}

func (d *Dispatcher) run(ctx context.Context, req Request, in Intent) (Reply, string, error) {
	g := subscription.GroupID(req.ChatID)
	switch in.Kind {
	case KindQuery:
		img, err := d.fetch.Fetch(ctx)
		if err != nil {
			return Reply{Text: FetchFailedText(err)}, "", err
		}
		return Reply{Image: img}, "", nil

	case KindStatus:
		st := d.subs.Status(g)
		return Reply{Text: statusText(st)}, g.String(), nil

	case KindSetSchedule:
		sub, err := d.subs.Subscribe(ctx, g, in.Hour, in.Minute)
		target := fmt.Sprintf("%s@%d:%02d", g, in.Hour, in.Minute)
		switch {
		case errors.Is(err, subscription.ErrValidation):
			return Reply{Text: textBadTime}, target, err
		case err != nil:
			return Reply{Text: textSaveFailed}, target, err
		}
		return Reply{Text: textScheduleSet + sub.String()}, target, nil

	case KindDisable:
		err := d.subs.Unsubscribe(ctx, g)
		switch {
		case errors.Is(err, subscription.ErrNotSubscribed):
			return Reply{Text: textNotSubscribed}, g.String(), err
		case err != nil:
			return Reply{Text: textSaveFailed}, g.String(), err
		}
		return Reply{Text: textDisabled}, g.String(), nil

	case KindDisableAll:
		if !d.isOwner(req.FromID) {
			return Reply{Text: textOwnerOnly}, "all", errors.New("not an owner")
		}
		n, err := d.subs.UnsubscribeAll(ctx)
		if err != nil {
			return Reply{Text: textSaveFailed}, "all", err
		}
		return Reply{Text: textDisabledAll}, fmt.Sprintf("all(%d)", n), nil

	case KindHelp:
		return Reply{Text: textHelp}, "", nil
	}
	return Reply{}, "", fmt.Errorf("unhandled intent %v", in.Kind)
}

func (d *Dispatcher) isOwner(id int64) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.owners) == 0 || slices.Contains(d.owners, id)
}

func (d *Dispatcher) record(ctx context.Context, req Request, action, target string, start time.Time, err error) {
	if d.audit == nil {
		return
	}
	e := storage.AuditEntry{
		At:            start,
		ActorID:       req.FromID,
		ActorUsername: strings.TrimPrefix(req.Username, "@"),
		ChatID:        req.ChatID,
		Action:        action,
		Target:        target,
		OK:            err == nil,
		TookMS:        time.Since(start).Milliseconds(),
	}
	if err != nil {
		e.Error = err.Error()
	}
	if aerr := d.audit.AppendAudit(ctx, e); aerr != nil {
		d.log.Warn("audit append failed", logx.String("action", action), logx.Err(aerr))
	}
}

// FetchFailedText is the chat message for a failed calendar download.
func FetchFailedText(err error) string {
	if code := calendar.StatusCode(err); code != 0 {
		return fmt.Sprintf("%s，错误码：%d", textFetchFailed, code)
	}
	return textFetchFailed + "，请稍后再试"
}

func statusText(st subscription.Status) string {
	if !st.Enabled {
		return "摸鱼日历状态：\n每日推送: 已关闭"
	}
	return fmt.Sprintf("摸鱼日历状态：\n每日推送: 已开启\n推送时间: %d:%02d", st.Hour, st.Minute)
}

const (
	textScheduleSet   = "本群摸鱼日历推送时间设置成功："
	textNotSubscribed = "本群未开启摸鱼日历推送"
	textDisabled      = "本群摸鱼日历推送已禁用"
	textDisabledAll   = "所有摸鱼日历推送已禁用"
	textFetchFailed   = "摸鱼日历获取失败"
	textSaveFailed    = "保存推送设置失败，请稍后再试"
	textGroupOnly     = "该命令仅支持在群聊中使用"
	textOwnerOnly     = "只有机器人管理员可以禁用所有群的推送"
	textBadTime       = "时间格式错误，请使用 摸鱼 设置 时:分（如 摸鱼 设置 9:30），小时 0-23，分钟 0-59"
	textHelp          = "可用参数：\n" +
		"1、摸鱼 【获取今天的摸鱼日历】\n" +
		"2、摸鱼 状态 【查看本群摸鱼日历推送状态】\n" +
		"3、摸鱼 (设置|推送) 时:分 【设置本群摸鱼日历推送时间】\n" +
		"4、摸鱼 (禁用|关闭) [all] 【禁用本群推送，带 all 则禁用所有群】\n" +
		"5、摸鱼 帮助 【显示本帮助】"
)
