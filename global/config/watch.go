package config

import (
	"github.com/fsnotify/fsnotify"
)

// Watch 监听配置文件，改动通过校验后回调 apply，否则交给 onErr 并保留当前配置。
// 只有日志级别和来源白名单会在运行时生效，其余字段需要重启。path 为空时不监听
func Watch(path string, apply func(AppConfig), onErr func(error)) error {
	if path == "" {
		return nil
	}
	v, err := newViper(path)
	if err != nil {
		return err
	}
	v.OnConfigChange(func(fsnotify.Event) {
		cfg, err := decode(v)
		if err != nil {
			if onErr != nil {
				onErr(err)
			}
			return
		}
		apply(cfg)
	})
	v.WatchConfig()
	return nil
}
