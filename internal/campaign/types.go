package campaign

import "time"

// Type classifies how a detected campaign spreads content.
type Type string

const (
	TypeExactDuplicate   Type = "exact_duplicate"
	TypeNearDuplicate    Type = "near_duplicate"
	TypeCoordinatedBurst Type = "coordinated_burst"
	TypeBotNetwork       Type = "bot_network"
	TypeSimilarContent   Type = "similar_content"
)

// Status is the lifecycle state of a detected campaign.
type Status string

const (
	StatusActive    Status = "active"
	StatusResolved  Status = "resolved"
	StatusDismissed Status = "dismissed"
)

// Post is a monitored social media post inside the rolling scan window.
type Post struct {
	ID           int64
	PostID       string
	Platform     string
	AuthorID     string
	AuthorHandle string
	Content      string
	Fingerprint  string
	Embedding    []float32
	URL          string
	PostedAt     time.Time
	VIPMention   string
	ClusterID    *int
	IsDuplicate  bool
}

// Group is a detected cluster of related posts before persistence.
type Group struct {
	Type            Type
	ContentSample   string
	Posts           []Post
	PostCount       int
	UniqueAuthors   int
	Platforms       []string
	FirstSeen       time.Time
	LastSeen        time.Time
	TimeSpanMinutes float64
	Similarity      float64
	VIPMention      string
	RiskScore       float64
}

// Campaign is a persisted detected campaign.
type Campaign struct {
	ID              int64
	Hash            string
	Type            Type
	ContentSample   string
	PostCount       int
	UniqueAuthors   int
	Platforms       []string
	TimeSpanMinutes float64
	Similarity      float64
	VIPMention      string
	RiskScore       float64
	Status          Status
	FirstSeen       time.Time
	LastSeen        time.Time
	DetectedAt      time.Time
}

// ScanResult summarizes one detection cycle.
type ScanResult struct {
	ExactDuplicates   []Group   `json:"exact_duplicates"`
	SimilarCampaigns  []Group   `json:"similar_campaigns"`
	TotalCampaigns    int       `json:"total_campaigns"`
	HighRiskCampaigns int       `json:"high_risk_campaigns"`
	PostsScanned      int       `json:"posts_scanned"`
	Timestamp         time.Time `json:"timestamp"`
}
