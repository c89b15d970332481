package domain

import "time"

// VideoSummary is the list and search projection of a ProcessedVideo.
type VideoSummary struct {
	ID               string           `json:"id"`
	Title            string           `json:"title"`
	Address          string           `json:"address"`
	Location         Location         `json:"location"`
	VideoURL         string           `json:"video_url"`
	OriginalVideoURL string           `json:"original_video_url,omitempty"`
	Thumbnail        string           `json:"thumbnail,omitempty"`
	Duration         string           `json:"duration,omitempty"`
	Status           string           `json:"status"`
	RiderName        string           `json:"rider_name,omitempty"`
	DetectionSummary DetectionSummary `json:"detection_summary"`
	DetectionCount   int              `json:"detection_count"`
	CreatedAt        time.Time        `json:"created_at"`
}

// VideoDetail is a processed video with its detection result attached.
type VideoDetail struct {
	VideoSummary
	UnprocessedID    string          `json:"unprocessed_id"`
	ExtraData        ExtraData       `json:"extra_data,omitempty"`
	DetectionResults DetectionResult `json:"detection_results"`
}

// MapPoint is a processed video placed on the map.
type MapPoint struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	Location       Location  `json:"location"`
	DetectionCount int       `json:"detection_count"`
	Thumbnail      string    `json:"thumbnail,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Hotspot is a cluster of map points sharing an S2 cell.
type Hotspot struct {
	Cell           string   `json:"cell"`
	Level          int      `json:"level"`
	Center         Location `json:"center"`
	Count          int      `json:"count"`
	DetectionCount int      `json:"detection_count"`
	VideoIDs       []string `json:"video_ids"`
}

// RecentActivity is one row of the dashboard activity feed.
type RecentActivity struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	ProcessedAt    time.Time `json:"processed_at"`
	Rider          string    `json:"rider"`
	DetectionCount int       `json:"detection_count"`
}

// CategoryCount is one slice of the issue category breakdown.
type CategoryCount struct {
	Category string `json:"category"`
	Count    int    `json:"count"`
}

// TrendPoint is the number of detections recorded on one day.
type TrendPoint struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// DashboardSnapshot is computed on every request and never stored.
type DashboardSnapshot struct {
	TotalVideos        int64            `json:"total_videos"`
	ProcessedVideos    int64            `json:"processed_videos"`
	UnprocessedVideos  int64            `json:"unprocessed_videos"`
	ActiveRiders       int64            `json:"active_riders"`
	RewardsDistributed float64          `json:"rewards_distributed"`
	DetectionSummary   DetectionSummary `json:"detection_summary"`
	RecentActivity     []RecentActivity `json:"recent_activity"`
	IssueCategories    []CategoryCount  `json:"issue_categories"`
	TrendingIssues     []TrendPoint     `json:"trending_issues"`
}

// VideoCounts are the lifecycle counters read in one pass.
type VideoCounts struct {
	Total       int64
	Processed   int64
	Unprocessed int64
}

// Rider roles and statuses.
const (
	RoleRider      = "rider"
	RiderActive    = "active"
	RiderSuspended = "suspended"
)

// Rider is a field user who records clips.
type Rider struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Reward is a payout to a rider.
type Reward struct {
	ID        string    `json:"id"`
	RiderID   string    `json:"rider_id"`
	Amount    float64   `json:"amount"`
	CreatedAt time.Time `json:"created_at"`
}
