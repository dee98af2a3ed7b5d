// Package config 加载服务配置：默认值 < 配置文件 < WEREWOLF_ 前缀的环境变量
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/qianlnk/werewolf-judge/models"
)

// Config 服务配置
type Config struct {
	Addr         string            `mapstructure:"addr"`
	DBPath       string            `mapstructure:"db_path"` // 为空时不保存对局记录
	AgentTimeout time.Duration     `mapstructure:"agent_timeout"`
	HumanTimeout time.Duration     `mapstructure:"human_timeout"`
	AutoRun      bool              `mapstructure:"auto_run"`
	AgentSeed    int64             `mapstructure:"agent_seed"`
	Game         models.GameConfig `mapstructure:"game"`
}

// DefaultRoles 默认的9人局：3狼3民，预言家、女巫、猎人
func DefaultRoles() map[models.Role]int {
	return map[models.Role]int{
		models.Werewolf: 3,
		models.Villager: 3,
		models.Seer:     1,
		models.Witch:    1,
		models.Hunter:   1,
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("addr", ":8080")
	v.SetDefault("db_path", "werewolf.db")
	v.SetDefault("agent_timeout", 30*time.Second)
	v.SetDefault("human_timeout", 120*time.Second)
	v.SetDefault("auto_run", true)
	v.SetDefault("agent_seed", 0)
	v.SetDefault("game.total_players", 9)
	v.SetDefault("game.victory_mode", string(models.EdgeMode))
	v.SetDefault("game.speaking_order", "")
	v.SetDefault("game.human_seats", []int{})
	v.SetDefault("game.seed", 0)
}

// Load 读取配置，path为空时只使用默认值和环境变量
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("WEREWOLF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置文件 %s 失败: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	// 角色表不放进默认值，否则会和配置文件里的角色表合并
	if len(cfg.Game.Roles) == 0 {
		cfg.Game.Roles = DefaultRoles()
	}
	if cfg.Addr == "" {
		return nil, errors.New("addr 不能为空")
	}
	return &cfg, nil
}
