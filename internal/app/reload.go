package app

import (
	"context"
	"strings"

	"hatbot/internal/config"
	logx "hatbot/pkg/logx"
)

func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			if newCfg == nil {
				continue
			}
			a.applyConfig(ctx, lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

// applyConfig pushes a committed config into every component that can take
// it live.
func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	ch := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(ch.Sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	changed := logx.String("changed", strings.Join(ch.Sections, ","))
	a.log.Debug("config change summary", append([]logx.Field{changed}, ch.Attrs...)...)

	if ch.Has("telegram") || ch.Has("logging") {
		// Target first, so Apply does not warn about an enabled sink with
		// no chat.
		chatID, _ := config.ParseChatID("telegram.group_log", newCfg.Telegram.GroupLog)
		a.logs.SetChatTarget(chatID, newCfg.Logging.Telegram.ThreadID)
		a.logs.Apply(mapLogConfig(newCfg))
	}

	if ch.Has("telegram") {
		a.cmdm.SetOwners(newCfg.Telegram.OwnerUserIDs)
		a.cmdm.SetModerators(newCfg.Telegram.ModeratorUserIDs)
		a.roles.SetChat(newCfg.Telegram.ChatID)
	}
	if ch.Has("telegram") || ch.Has("playtest") {
		a.pub.SetTargets(mapTargets(newCfg))
	}

	if ch.Has("moderation") {
		a.mutes.SetImmune(newCfg.Moderation.ImmuneUserIDs)
	}

	if ch.Has("rcon") {
		if d, err := rconTimeout(newCfg); err != nil {
			a.log.Warn("invalid rcon config; keeping previous", logx.Err(err))
		} else {
			a.rcon.SetTimeout(d)
		}
	}

	if ch.Has("playtest") {
		if pcfg, err := mapPlaytestConfig(newCfg); err != nil {
			a.log.Warn("invalid playtest config; keeping previous", logx.Err(err))
		} else {
			a.orch.ApplyConfig(pcfg)
		}
	}

	if ch.Has("debug") {
		a.debug.Reconfigure(ctx, mapDebugConfig(newCfg))
	}

	if len(ch.RestartRequired) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect",
			logx.String("sections", strings.Join(ch.RestartRequired, ",")))
	}
	a.log.Info("config reloaded", append([]logx.Field{changed}, ch.Attrs...)...)
}
