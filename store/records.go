// Package store 把结束的对局写入SQLite，供赛后复盘查询
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/qianlnk/werewolf-judge/models"
)

// ErrNotFound 记录不存在
var ErrNotFound = errors.New("对局记录不存在")

const schema = `
CREATE TABLE IF NOT EXISTS games (
	id           TEXT PRIMARY KEY,
	result       TEXT NOT NULL,
	victory_mode TEXT NOT NULL,
	summary      TEXT NOT NULL,
	saved_at     INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS deaths (
	game_id   TEXT NOT NULL,
	day       INTEGER NOT NULL,
	phase     TEXT NOT NULL,
	player_id INTEGER NOT NULL,
	cause     TEXT NOT NULL,
	UNIQUE(game_id, player_id)
);
`

// RecordStore 对局记录，实现services.SummaryRecorder
type RecordStore struct {
	db *sqlx.DB
}

// Open 打开数据库并建表，path可以是":memory:"
func Open(path string) (*RecordStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("数据库路径不能为空")
	}
	db, err := sqlx.Connect("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}
	// SQLite只允许一个写者
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("建表失败: %w", err)
	}
	return &RecordStore{db: db}, nil
}

// Close 关闭数据库
func (s *RecordStore) Close() error {
	return s.db.Close()
}

type deathRow struct {
	GameID string `db:"game_id"`
	models.DeathRecord
}

// SaveSummary 保存对局摘要，同一局重复保存会覆盖
func (s *RecordStore) SaveSummary(ctx context.Context, summary models.GameSummary) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("序列化摘要失败: %w", err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO games (id, result, victory_mode, summary, saved_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			result = excluded.result,
			victory_mode = excluded.victory_mode,
			summary = excluded.summary,
			saved_at = excluded.saved_at`,
		summary.GameID, string(summary.Result), string(summary.VictoryMode), string(data), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("保存对局失败: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM deaths WHERE game_id = ?`, summary.GameID); err != nil {
		return fmt.Errorf("清理死亡记录失败: %w", err)
	}
	if len(summary.DeathHistory) > 0 {
		rows := make([]deathRow, 0, len(summary.DeathHistory))
		for _, d := range summary.DeathHistory {
			rows = append(rows, deathRow{GameID: summary.GameID, DeathRecord: d})
		}
		_, err = tx.NamedExecContext(ctx, `
			INSERT INTO deaths (game_id, day, phase, player_id, cause)
			VALUES (:game_id, :day, :phase, :player_id, :cause)`, rows)
		if err != nil {
			return fmt.Errorf("保存死亡记录失败: %w", err)
		}
	}
	return tx.Commit()
}

// GetSummary 读取对局摘要
func (s *RecordStore) GetSummary(ctx context.Context, gameID string) (models.GameSummary, error) {
	var data string
	err := s.db.GetContext(ctx, &data, `SELECT summary FROM games WHERE id = ?`, gameID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.GameSummary{}, ErrNotFound
	}
	if err != nil {
		return models.GameSummary{}, err
	}
	var summary models.GameSummary
	if err := json.Unmarshal([]byte(data), &summary); err != nil {
		return models.GameSummary{}, fmt.Errorf("解析摘要失败: %w", err)
	}
	return summary, nil
}

// ListDeaths 按死亡顺序列出一局的死亡记录
func (s *RecordStore) ListDeaths(ctx context.Context, gameID string) ([]models.DeathRecord, error) {
	deaths := make([]models.DeathRecord, 0)
	err := s.db.SelectContext(ctx, &deaths, `
		SELECT day, phase, player_id, cause FROM deaths
		WHERE game_id = ? ORDER BY rowid`, gameID)
	if err != nil {
		return nil, err
	}
	return deaths, nil
}
