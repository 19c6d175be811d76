package records

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"repowatch/pkg/platform"
	"repowatch/pkg/storage"

	glebarez "github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Config mirrors the storage section of the application config.
type Config struct {
	Driver      string
	DSN         string
	TablePrefix string
	AutoMigrate bool
}

// Store implements storage.Store on top of GORM.
type Store struct {
	db     *gorm.DB
	prefix string
}

type repositoryRow struct {
	ID                   string     `gorm:"column:id;primaryKey;size:64"`
	Platform             string     `gorm:"column:platform;size:32;not null;uniqueIndex:idx_repo_identity"`
	Owner                string     `gorm:"column:owner;size:255;not null;uniqueIndex:idx_repo_identity"`
	Name                 string     `gorm:"column:name;size:255;not null;uniqueIndex:idx_repo_identity"`
	FullName             string     `gorm:"column:full_name;size:512"`
	URL                  string     `gorm:"column:url;size:1024"`
	StarCount            int        `gorm:"column:star_count"`
	PreviousStarCount    int        `gorm:"column:previous_star_count"`
	LatestReleaseTag     string     `gorm:"column:latest_release_tag;size:255"`
	LatestReleaseName    string     `gorm:"column:latest_release_name;size:512"`
	LatestReleaseURL     string     `gorm:"column:latest_release_url;size:1024"`
	LatestReleaseDate    *time.Time `gorm:"column:latest_release_date"`
	LatestIssueTitle     string     `gorm:"column:latest_issue_title;type:text"`
	LatestIssueURL       string     `gorm:"column:latest_issue_url;size:1024"`
	LatestIssueDate      *time.Time `gorm:"column:latest_issue_date"`
	ForkCount            int        `gorm:"column:fork_count"`
	OpenIssueCount       int        `gorm:"column:open_issue_count"`
	OpenPullCount        int        `gorm:"column:open_pull_count"`
	CommitCount          int        `gorm:"column:commit_count"`
	ContributorCount     int        `gorm:"column:contributor_count"`
	LastCommitDate       *time.Time `gorm:"column:last_commit_date"`
	ClosedIssueCount     int        `gorm:"column:closed_issue_count"`
	TotalIssueCount      int        `gorm:"column:total_issue_count"`
	RecentClosedIssues   int        `gorm:"column:recent_closed_issues"`
	RecentMergedPulls    int        `gorm:"column:recent_merged_pulls"`
	LastUpdated          *time.Time `gorm:"column:last_updated"`
	LastChecked          *time.Time `gorm:"column:last_checked"`
	NotificationsEnabled bool       `gorm:"column:notifications_enabled"`
	CreatedAt            time.Time  `gorm:"column:created_at"`
}

type analyticsRow struct {
	RepositoryID        string    `gorm:"column:repository_id;primaryKey;size:64"`
	DailyStars          []int     `gorm:"column:daily_stars;type:text;serializer:json"`
	DailyCommits        []int     `gorm:"column:daily_commits;type:text;serializer:json"`
	DailyIssues         []int     `gorm:"column:daily_issues;type:text;serializer:json"`
	LastSampleDay       string    `gorm:"column:last_sample_day;size:16"`
	HealthScore         int       `gorm:"column:health_score"`
	PreviousHealthScore int       `gorm:"column:previous_health_score"`
	ActivityLevel       int       `gorm:"column:activity_level"`
	PreviousActivity    int       `gorm:"column:previous_activity"`
	UpdatedAt           time.Time `gorm:"column:updated_at"`
}

type milestoneRow struct {
	RepositoryID string    `gorm:"column:repository_id;primaryKey;size:64"`
	Metric       string    `gorm:"column:metric;primaryKey;size:32"`
	Threshold    int       `gorm:"column:threshold;primaryKey"`
	NotifiedAt   time.Time `gorm:"column:notified_at"`
}

// Open creates a GORM-backed store.
func Open(cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, errors.New("storage dsn is required")
	}
	driver := normalizeDriver(cfg.Driver)
	if driver == "" {
		return nil, fmt.Errorf("unsupported storage driver: %q", cfg.Driver)
	}
	gormDB, err := openGorm(driver, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if driver == "sqlite" || driver == "sqlite3" {
		// SQLite allows a single writer; in-memory databases also live per connection.
		if sqlDB, err := gormDB.DB(); err == nil {
			sqlDB.SetMaxOpenConns(1)
		}
	}
	return New(gormDB, cfg.TablePrefix, cfg.AutoMigrate)
}

// New wraps an existing GORM handle.
func New(db *gorm.DB, prefix string, autoMigrate bool) (*Store, error) {
	if db == nil {
		return nil, errors.New("gorm db is required")
	}
	if prefix == "" {
		prefix = "repowatch_"
	}
	store := &Store{db: db, prefix: prefix}
	if autoMigrate {
		if err := store.migrate(); err != nil {
			return nil, err
		}
	}
	return store, nil
}

// Close closes the underlying DB connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// InsertRepository stores a new record, rejecting duplicate identifiers.
func (s *Store) InsertRepository(ctx context.Context, record storage.RepositoryRecord) error {
	if record.ID == "" {
		return errors.New("record id is required")
	}
	if err := record.Identifier.Validate(); err != nil {
		return err
	}
	var count int64
	err := s.repos(ctx).
		Where("platform = ? AND owner = ? AND name = ?", string(record.Identifier.Platform), record.Identifier.Owner, record.Identifier.Name).
		Count(&count).Error
	if err != nil {
		return err
	}
	if count > 0 {
		return fmt.Errorf("%w: %s", storage.ErrDuplicate, record.Identifier)
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	data := toRepositoryRow(record)
	return s.repos(ctx).Create(&data).Error
}

// SaveRepository overwrites an existing record.
func (s *Store) SaveRepository(ctx context.Context, record storage.RepositoryRecord) error {
	data := toRepositoryRow(record)
	result := s.repos(ctx).Where("id = ?", record.ID).Select("*").Updates(&data)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		// MySQL reports zero affected rows when nothing changed.
		var count int64
		if err := s.repos(ctx).Where("id = ?", record.ID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return fmt.Errorf("%w: %s", storage.ErrNotFound, record.ID)
		}
	}
	return nil
}

// GetRepository fetches a record by ID.
func (s *Store) GetRepository(ctx context.Context, id string) (*storage.RepositoryRecord, error) {
	var data repositoryRow
	err := s.repos(ctx).Where("id = ?", id).Take(&data).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	record := fromRepositoryRow(data)
	return &record, nil
}

// ListRepositories returns every tracked record in insertion order.
func (s *Store) ListRepositories(ctx context.Context) ([]storage.RepositoryRecord, error) {
	var data []repositoryRow
	if err := s.repos(ctx).Order("created_at asc, id asc").Find(&data).Error; err != nil {
		return nil, err
	}
	records := make([]storage.RepositoryRecord, 0, len(data))
	for _, item := range data {
		records = append(records, fromRepositoryRow(item))
	}
	return records, nil
}

// DeleteRepository removes a record.
func (s *Store) DeleteRepository(ctx context.Context, id string) error {
	result := s.repos(ctx).Where("id = ?", id).Delete(&repositoryRow{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", storage.ErrNotFound, id)
	}
	return nil
}

// GetAnalytics returns nil without error when no snapshot exists yet.
func (s *Store) GetAnalytics(ctx context.Context, repositoryID string) (*storage.AnalyticsSnapshot, error) {
	var data analyticsRow
	err := s.analytics(ctx).Where("repository_id = ?", repositoryID).Take(&data).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	snapshot := fromAnalyticsRow(data)
	return &snapshot, nil
}

// SaveAnalytics upserts a snapshot.
func (s *Store) SaveAnalytics(ctx context.Context, snapshot storage.AnalyticsSnapshot) error {
	data := toAnalyticsRow(snapshot)
	return s.analytics(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "repository_id"}},
			UpdateAll: true,
		}).
		Create(&data).Error
}

// DeleteAnalytics removes the snapshot for a repository, if any.
func (s *Store) DeleteAnalytics(ctx context.Context, repositoryID string) error {
	return s.analytics(ctx).Where("repository_id = ?", repositoryID).Delete(&analyticsRow{}).Error
}

// HasMilestone reports whether a marker exists.
func (s *Store) HasMilestone(ctx context.Context, repositoryID, metric string, threshold int) (bool, error) {
	var count int64
	err := s.milestones(ctx).
		Where("repository_id = ? AND metric = ? AND threshold = ?", repositoryID, metric, threshold).
		Count(&count).Error
	return count > 0, err
}

// MarkMilestone stores a marker; marking twice is a no-op.
func (s *Store) MarkMilestone(ctx context.Context, marker storage.MilestoneMarker) error {
	if marker.NotifiedAt.IsZero() {
		marker.NotifiedAt = time.Now().UTC()
	}
	data := milestoneRow{
		RepositoryID: marker.RepositoryID,
		Metric:       marker.Metric,
		Threshold:    marker.Threshold,
		NotifiedAt:   marker.NotifiedAt,
	}
	return s.milestones(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&data).Error
}

// DeleteMilestones removes every marker of a repository.
func (s *Store) DeleteMilestones(ctx context.Context, repositoryID string) error {
	return s.milestones(ctx).Where("repository_id = ?", repositoryID).Delete(&milestoneRow{}).Error
}

func (s *Store) migrate() error {
	if err := s.db.Table(s.prefix + "repositories").AutoMigrate(&repositoryRow{}); err != nil {
		return err
	}
	if err := s.db.Table(s.prefix + "analytics").AutoMigrate(&analyticsRow{}); err != nil {
		return err
	}
	return s.db.Table(s.prefix + "milestones").AutoMigrate(&milestoneRow{})
}

func (s *Store) repos(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).Table(s.prefix + "repositories")
}

func (s *Store) analytics(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).Table(s.prefix + "analytics")
}

func (s *Store) milestones(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).Table(s.prefix + "milestones")
}

func toRepositoryRow(r storage.RepositoryRecord) repositoryRow {
	return repositoryRow{
		ID:                   r.ID,
		Platform:             string(r.Identifier.Platform),
		Owner:                r.Identifier.Owner,
		Name:                 r.Identifier.Name,
		FullName:             r.FullName,
		URL:                  r.URL,
		StarCount:            r.StarCount,
		PreviousStarCount:    r.PreviousStarCount,
		LatestReleaseTag:     r.LatestReleaseTag,
		LatestReleaseName:    r.LatestReleaseName,
		LatestReleaseURL:     r.LatestReleaseURL,
		LatestReleaseDate:    r.LatestReleaseDate,
		LatestIssueTitle:     r.LatestIssueTitle,
		LatestIssueURL:       r.LatestIssueURL,
		LatestIssueDate:      r.LatestIssueDate,
		ForkCount:            r.ForkCount,
		OpenIssueCount:       r.OpenIssueCount,
		OpenPullCount:        r.OpenPullCount,
		CommitCount:          r.CommitCount,
		ContributorCount:     r.ContributorCount,
		LastCommitDate:       r.LastCommitDate,
		ClosedIssueCount:     r.ClosedIssueCount,
		TotalIssueCount:      r.TotalIssueCount,
		RecentClosedIssues:   r.RecentClosedIssues,
		RecentMergedPulls:    r.RecentMergedPulls,
		LastUpdated:          r.LastUpdated,
		LastChecked:          r.LastChecked,
		NotificationsEnabled: r.NotificationsEnabled,
		CreatedAt:            r.CreatedAt,
	}
}

func fromRepositoryRow(d repositoryRow) storage.RepositoryRecord {
	return storage.RepositoryRecord{
		ID: d.ID,
		Identifier: platform.Identifier{
			Platform: platform.Platform(d.Platform),
			Owner:    d.Owner,
			Name:     d.Name,
		},
		FullName:             d.FullName,
		URL:                  d.URL,
		StarCount:            d.StarCount,
		PreviousStarCount:    d.PreviousStarCount,
		LatestReleaseTag:     d.LatestReleaseTag,
		LatestReleaseName:    d.LatestReleaseName,
		LatestReleaseURL:     d.LatestReleaseURL,
		LatestReleaseDate:    d.LatestReleaseDate,
		LatestIssueTitle:     d.LatestIssueTitle,
		LatestIssueURL:       d.LatestIssueURL,
		LatestIssueDate:      d.LatestIssueDate,
		ForkCount:            d.ForkCount,
		OpenIssueCount:       d.OpenIssueCount,
		OpenPullCount:        d.OpenPullCount,
		CommitCount:          d.CommitCount,
		ContributorCount:     d.ContributorCount,
		LastCommitDate:       d.LastCommitDate,
		ClosedIssueCount:     d.ClosedIssueCount,
		TotalIssueCount:      d.TotalIssueCount,
		RecentClosedIssues:   d.RecentClosedIssues,
		RecentMergedPulls:    d.RecentMergedPulls,
		LastUpdated:          d.LastUpdated,
		LastChecked:          d.LastChecked,
		NotificationsEnabled: d.NotificationsEnabled,
		CreatedAt:            d.CreatedAt,
	}
}

func toAnalyticsRow(s storage.AnalyticsSnapshot) analyticsRow {
	return analyticsRow{
		RepositoryID:        s.RepositoryID,
		DailyStars:          s.DailyStars,
		DailyCommits:        s.DailyCommits,
		DailyIssues:         s.DailyIssues,
		LastSampleDay:       s.LastSampleDay,
		HealthScore:         s.HealthScore,
		PreviousHealthScore: s.PreviousHealthScore,
		ActivityLevel:       int(s.ActivityLevel),
		PreviousActivity:    int(s.PreviousActivity),
		UpdatedAt:           s.UpdatedAt,
	}
}

func fromAnalyticsRow(d analyticsRow) storage.AnalyticsSnapshot {
	return storage.AnalyticsSnapshot{
		RepositoryID:        d.RepositoryID,
		DailyStars:          d.DailyStars,
		DailyCommits:        d.DailyCommits,
		DailyIssues:         d.DailyIssues,
		LastSampleDay:       d.LastSampleDay,
		HealthScore:         d.HealthScore,
		PreviousHealthScore: d.PreviousHealthScore,
		ActivityLevel:       storage.ActivityLevel(d.ActivityLevel),
		PreviousActivity:    storage.ActivityLevel(d.PreviousActivity),
		UpdatedAt:           d.UpdatedAt,
	}
}

func normalizeDriver(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	switch value {
	case "", "sqlite":
		return "sqlite"
	case "sqlite3":
		return "sqlite3"
	case "postgres", "postgresql", "pgx":
		return "postgres"
	case "mysql":
		return "mysql"
	default:
		return ""
	}
}

func openGorm(driver, dsn string) (*gorm.DB, error) {
	cfg := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}
	switch driver {
	case "sqlite":
		return gorm.Open(glebarez.Open(dsn), cfg)
	case "sqlite3":
		return gorm.Open(sqlite.Open(dsn), cfg)
	case "postgres":
		return gorm.Open(postgres.Open(dsn), cfg)
	case "mysql":
		return gorm.Open(mysql.Open(dsn), cfg)
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", driver)
	}
}
