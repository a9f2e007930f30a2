package store

import (
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dukerupert/starchart/internal/model"
)

// ErrNotInitialized is returned when a singleton row is missing. Only
// Initialize creates those rows; updates never do.
var ErrNotInitialized = errors.New("chart not initialized")

// The chart is a single global record; every singleton row uses this id.
const chartID = 1

type ChartStore struct {
	db *sql.DB
}

func NewChartStore(db *sql.DB) *ChartStore {
	return &ChartStore{db: db}
}

// Initialize inserts the default singleton rows if they are absent. Existing
// rows are never overwritten, so it is safe to call on every start.
func (s *ChartStore) Initialize() error {
	defaults := model.DefaultRewardPreview()
	stmts := []struct {
		name  string
		query string
		args  []any
	}{
		{"points", `INSERT OR IGNORE INTO star_chart (id, points) VALUES (?, 0)`, []any{chartID}},
		{"reward settings", `INSERT OR IGNORE INTO reward_settings (id, stars_required, reward_title, reward_description) VALUES (?, ?, ?, ?)`,
			[]any{chartID, defaults.Stars, defaults.Reward, defaults.Description}},
		{"theme", `INSERT OR IGNORE INTO theme_settings (id, theme) VALUES (?, ?)`, []any{chartID, model.ThemeDefault}},
	}
	for _, st := range stmts {
		if _, err := s.db.Exec(st.query, st.args...); err != nil {
			return fmt.Errorf("seed %s: %w", st.name, err)
		}
	}
	return nil
}

// GetCurrentData returns the full chart. Missing singleton rows yield the
// documented defaults rather than an error.
func (s *ChartStore) GetCurrentData() (*model.ChartState, error) {
	state := model.DefaultChartState()

	var chartUpdated, rewardUpdated, themeUpdated time.Time
	var theme string
	err := s.db.QueryRow(
		`SELECT sc.points, sc.updated_at, rs.stars_required, rs.reward_title, rs.reward_description, rs.updated_at, ts.theme, ts.updated_at
		 FROM star_chart sc
		 CROSS JOIN reward_settings rs
		 CROSS JOIN theme_settings ts
		 WHERE sc.id = ? AND rs.id = ? AND ts.id = ?`,
		chartID, chartID, chartID,
	).Scan(
		&state.Points, &chartUpdated,
		&state.RewardPreview.Stars, &state.RewardPreview.Reward, &state.RewardPreview.Description, &rewardUpdated,
		&theme, &themeUpdated,
	)
	switch {
	case err == sql.ErrNoRows:
		state = model.DefaultChartState()
	case err != nil:
		return nil, fmt.Errorf("get chart: %w", err)
	default:
		state.CurrentTheme = model.Theme(theme)
		latest := latestOf(chartUpdated, rewardUpdated, themeUpdated)
		state.UpdatedAt = &latest
	}

	comments, stickers, err := s.getAnnotations()
	if err != nil {
		return nil, err
	}
	state.StarComments = comments
	state.StickerTypes = stickers

	return &state, nil
}

func (s *ChartStore) getAnnotations() (map[int]string, map[int]int, error) {
	rows, err := s.db.Query(`SELECT star_index, comment, sticker_type FROM star_comments ORDER BY star_index`)
	if err != nil {
		return nil, nil, fmt.Errorf("list annotations: %w", err)
	}
	defer rows.Close()

	comments := make(map[int]string)
	stickers := make(map[int]int)
	for rows.Next() {
		var index, sticker int
		var comment sql.NullString
		if err := rows.Scan(&index, &comment, &sticker); err != nil {
			return nil, nil, fmt.Errorf("scan annotation: %w", err)
		}
		if comment.Valid && comment.String != "" {
			comments[index] = comment.String
		}
		stickers[index] = sticker
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate annotations: %w", err)
	}
	return comments, stickers, nil
}

// UpdatePoints sets the point count exactly. Clamping is the caller's job.
// It returns the number of rows affected; zero means the singleton is missing.
func (s *ChartStore) UpdatePoints(points int) (int64, error) {
	result, err := s.db.Exec(
		`UPDATE star_chart SET points = ?, updated_at = ? WHERE id = ?`,
		points, time.Now().UTC(), chartID,
	)
	if err != nil {
		return 0, fmt.Errorf("update points: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// UpdateComments replaces the whole annotation set in one transaction. An
// index present in only one map gets the default for the other field: a
// NULL comment or sticker 0. Passing two empty maps clears everything.
func (s *ChartStore) UpdateComments(comments map[int]string, stickerTypes map[int]int) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM star_comments`); err != nil {
		return fmt.Errorf("clear annotations: %w", err)
	}

	now := time.Now().UTC()
	for _, index := range annotationIndices(comments, stickerTypes) {
		var comment sql.NullString
		if c, ok := comments[index]; ok && c != "" {
			comment = sql.NullString{String: c, Valid: true}
		}
		sticker := stickerTypes[index]

		if _, err := tx.Exec(
			`INSERT INTO star_comments (star_index, comment, sticker_type, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
			index, comment, sticker, now, now,
		); err != nil {
			return fmt.Errorf("insert annotation %d: %w", index, err)
		}
	}

	if _, err := tx.Exec(`UPDATE star_chart SET updated_at = ? WHERE id = ?`, now, chartID); err != nil {
		return fmt.Errorf("touch chart: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit annotations: %w", err)
	}
	return nil
}

// annotationIndices returns the union of keys of both maps, ascending.
func annotationIndices(comments map[int]string, stickerTypes map[int]int) []int {
	seen := make(map[int]struct{}, len(comments)+len(stickerTypes))
	for k := range comments {
		seen[k] = struct{}{}
	}
	for k := range stickerTypes {
		seen[k] = struct{}{}
	}
	indices := make([]int, 0, len(seen))
	for k := range seen {
		indices = append(indices, k)
	}
	sort.Ints(indices)
	return indices
}

func (s *ChartStore) UpdateRewardSettings(reward model.RewardPreview) (int64, error) {
	result, err := s.db.Exec(
		`UPDATE reward_settings SET stars_required = ?, reward_title = ?, reward_description = ?, updated_at = ? WHERE id = ?`,
		reward.Stars, reward.Reward, reward.Description, time.Now().UTC(), chartID,
	)
	if err != nil {
		return 0, fmt.Errorf("update reward settings: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

func (s *ChartStore) UpdateTheme(theme model.Theme) (int64, error) {
	result, err := s.db.Exec(
		`UPDATE theme_settings SET theme = ?, updated_at = ? WHERE id = ?`,
		string(theme), time.Now().UTC(), chartID,
	)
	if err != nil {
		return 0, fmt.Errorf("update theme: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// SaveFullData applies the fields present in req in points, theme,
// annotations, reward order. The first failure stops the sequence; steps
// that already succeeded stay applied.
func (s *ChartStore) SaveFullData(req model.SaveRequest) error {
	if req.Points != nil {
		n, err := s.UpdatePoints(*req.Points)
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("update points: %w", ErrNotInitialized)
		}
	}

	if req.CurrentTheme != nil {
		n, err := s.UpdateTheme(*req.CurrentTheme)
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("update theme: %w", ErrNotInitialized)
		}
	}

	if req.HasAnnotations() {
		comments := req.StarComments
		if comments == nil {
			comments = map[int]string{}
		}
		stickers := req.StickerTypes
		if stickers == nil {
			stickers = map[int]int{}
		}
		if err := s.UpdateComments(comments, stickers); err != nil {
			return err
		}
	}

	if req.RewardPreview != nil {
		n, err := s.UpdateRewardSettings(*req.RewardPreview)
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("update reward settings: %w", ErrNotInitialized)
		}
	}

	return nil
}

func latestOf(times ...time.Time) time.Time {
	var latest time.Time
	for _, t := range times {
		if t.After(latest) {
			latest = t
		}
	}
	return latest.UTC()
}
