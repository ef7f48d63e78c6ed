package app

import (
	"context"
	"errors"
	"strings"
	"time"

	"moyubot/internal/command"
	"moyubot/internal/transport"
	logx "moyubot/pkg/logx"
)

const commandTimeout = 30 * time.Second

func (a *App) updateLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case up := <-a.updates:
			msg := up.Message
			if msg == nil || strings.TrimSpace(msg.Text) == "" {
				continue
			}
			a.cmds.Go0("command", func(c context.Context) { a.handle(c, msg) })
		}
	}
}

func (a *App) handle(ctx context.Context, msg *transport.Message) {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	rep, err := a.disp.Handle(ctx, command.Request{
		ChatID:   msg.ChatID,
		FromID:   msg.FromID,
		Username: msg.FromUsername,
		IsGroup:  msg.IsGroup,
		Text:     msg.Text,
	})
	if errors.Is(err, command.ErrNoMatch) {
		return
	}
	if err != nil {
		a.log.Warn("command handling failed", logx.Int64("chat_id", msg.ChatID), logx.Err(err))
		return
	}

	to := transport.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}
	opt := &transport.SendOptions{ReplyTo: msg.ID, DisablePreview: true}
	if len(rep.Image) > 0 {
		_, err = a.adapter.SendImage(ctx, to, rep.Image, rep.Text, opt)
	} else if rep.Text != "" {
		_, err = a.adapter.SendText(ctx, to, rep.Text, opt)
	}
	if err != nil {
		a.log.Warn("reply failed", logx.Int64("chat_id", msg.ChatID), logx.Err(err))
	}
}
