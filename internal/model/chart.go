package model

import "time"

type Theme string

const (
	ThemeDefault   Theme = "default"
	ThemeChristmas Theme = "christmas"
)

// Valid reports whether t is one of the known themes.
func (t Theme) Valid() bool {
	return t == ThemeDefault || t == ThemeChristmas
}

const (
	DefaultTotalStars        = 15
	DefaultAmazingBonus      = 5
	DefaultRewardTitle       = "Special Day Out! 🎉"
	DefaultRewardDescription = "Choose any fun activity for a special family day!"
)

type RewardPreview struct {
	Stars       int    `json:"stars"`
	Reward      string `json:"reward"`
	Description string `json:"description"`
}

func DefaultRewardPreview() RewardPreview {
	return RewardPreview{
		Stars:       DefaultTotalStars,
		Reward:      DefaultRewardTitle,
		Description: DefaultRewardDescription,
	}
}

// ChartState is the single persisted star chart. Annotation maps are keyed
// by 0-based star index and are sparse.
type ChartState struct {
	Points        int            `json:"points"`
	StarComments  map[int]string `json:"starComments"`
	StickerTypes  map[int]int    `json:"stickerTypes"`
	CurrentTheme  Theme          `json:"currentTheme"`
	RewardPreview RewardPreview  `json:"rewardPreview"`
	UpdatedAt     *time.Time     `json:"updatedAt,omitempty"`
}

func DefaultChartState() ChartState {
	return ChartState{
		Points:        0,
		StarComments:  map[int]string{},
		StickerTypes:  map[int]int{},
		CurrentTheme:  ThemeDefault,
		RewardPreview: DefaultRewardPreview(),
	}
}

// Clone returns a deep copy so callers can mutate maps freely.
func (s ChartState) Clone() ChartState {
	out := s
	out.StarComments = make(map[int]string, len(s.StarComments))
	for k, v := range s.StarComments {
		out.StarComments[k] = v
	}
	out.StickerTypes = make(map[int]int, len(s.StickerTypes))
	for k, v := range s.StickerTypes {
		out.StickerTypes[k] = v
	}
	if s.UpdatedAt != nil {
		t := *s.UpdatedAt
		out.UpdatedAt = &t
	}
	return out
}

// SyncState is the sync-state payload: the chart plus the server's clock.
type SyncState struct {
	ChartState
	LastUpdated string `json:"lastUpdated"`
	ServerTime  int64  `json:"serverTime"`
}

// SaveRequest is a partial ChartState. Nil fields are left untouched by a
// save. The annotation maps are sent without omitempty so that an empty
// object still means "clear everything".
type SaveRequest struct {
	Points        *int           `json:"points,omitempty"`
	StarComments  map[int]string `json:"starComments"`
	StickerTypes  map[int]int    `json:"stickerTypes"`
	CurrentTheme  *Theme         `json:"currentTheme,omitempty"`
	RewardPreview *RewardPreview `json:"rewardPreview,omitempty"`
}

// HasAnnotations reports whether the request replaces the annotation set.
func (r SaveRequest) HasAnnotations() bool {
	return r.StarComments != nil || r.StickerTypes != nil
}

type SaveResponse struct {
	Success   bool  `json:"success"`
	Timestamp int64 `json:"timestamp"`
}
