package repository

import (
	"fmt"
	"time"
)

// Modality selects one of the two independent biometric slots a subject is
// enrolled with. Both slots run through the identical pipeline; the modality
// only picks the storage columns.
type Modality string

const (
	ModalityFace  Modality = "face"
	ModalityThumb Modality = "thumb"
)

// ParseModality maps the wire value of a search request onto a known slot.
func ParseModality(s string) (Modality, error) {
	switch Modality(s) {
	case ModalityFace:
		return ModalityFace, nil
	case ModalityThumb:
		return ModalityThumb, nil
	}
	return "", fmt.Errorf("repository: unknown modality %q", s)
}

// HashColumn names the fingerprint column of this modality.
func (m Modality) HashColumn() string {
	if m == ModalityThumb {
		return "thumb_hash"
	}
	return "face_hash"
}

// BucketColumn names the hash-bucket column of this modality.
func (m Modality) BucketColumn() string {
	if m == ModalityThumb {
		return "thumb_hash_bucket"
	}
	return "face_hash_bucket"
}

// DescriptorColumn names the stored descriptor-envelope column of this
// modality.
func (m Modality) DescriptorColumn() string {
	if m == ModalityThumb {
		return "thumb_features"
	}
	return "face_features"
}

// SubjectRecord is one enrolled subject. Every biometric column is nullable:
// partial enrollment (one modality, or a modality without extractable
// features) is an expected state.
type SubjectRecord struct {
	ID             string    `gorm:"column:id;primaryKey;size:36"`
	FirstName      string    `gorm:"column:first_name;size:128"`
	LastName       string    `gorm:"column:last_name;size:128"`
	Address        string    `gorm:"column:address;type:text"`
	AdditionalInfo string    `gorm:"column:additional_info;type:text"`
	FaceImage      *string   `gorm:"column:face_image;type:text"`
	ThumbImage     *string   `gorm:"column:thumb_image;type:text"`
	FaceHash       *string   `gorm:"column:face_hash;size:64"`
	ThumbHash      *string   `gorm:"column:thumb_hash;size:64"`
	FaceBucket     *int      `gorm:"column:face_hash_bucket;index"`
	ThumbBucket    *int      `gorm:"column:thumb_hash_bucket;index"`
	FaceFeatures   *string   `gorm:"column:face_features;type:text"`
	ThumbFeatures  *string   `gorm:"column:thumb_features;type:text"`
	CreatedAt      time.Time `gorm:"column:created_at"`
}

// TableName overrides the default table name.
func (SubjectRecord) TableName() string {
	return "subjects"
}

// SetHash stores a fingerprint into the modality's hash column.
func (r *SubjectRecord) SetHash(m Modality, hash string) {
	if m == ModalityThumb {
		r.ThumbHash = &hash
		return
	}
	r.FaceHash = &hash
}

// SetBucket stores a bucket id into the modality's bucket column.
func (r *SubjectRecord) SetBucket(m Modality, bucket int) {
	if m == ModalityThumb {
		r.ThumbBucket = &bucket
		return
	}
	r.FaceBucket = &bucket
}

// SetFeatures stores a descriptor envelope into the modality's column.
func (r *SubjectRecord) SetFeatures(m Modality, envelope string) {
	if m == ModalityThumb {
		r.ThumbFeatures = &envelope
		return
	}
	r.FaceFeatures = &envelope
}

// SetImage stores the raw image payload of the modality.
func (r *SubjectRecord) SetImage(m Modality, image string) {
	if m == ModalityThumb {
		r.ThumbImage = &image
		return
	}
	r.FaceImage = &image
}

// SearchLog is one persisted search request outcome.
type SearchLog struct {
	ID                uint      `gorm:"primaryKey"`
	RequestID         string    `gorm:"column:request_id;uniqueIndex;size:64"`
	Modality          string    `gorm:"column:modality;size:16"`
	Matched           bool      `gorm:"column:matched"`
	SubjectID         string    `gorm:"column:subject_id;size:36"`
	Reason            string    `gorm:"column:reason;size:64"`
	GoodMatches       int       `gorm:"column:good_matches"`
	MatchRatio        float64   `gorm:"column:match_ratio"`
	CandidatesChecked int       `gorm:"column:candidates_checked"`
	CreatedAt         time.Time `gorm:"column:created_at"`
}

// TableName overrides the default table name.
func (SearchLog) TableName() string {
	return "search_logs"
}

// CandidateRow is one bucket-index hit as returned by the find_candidates SQL
// function, ordered by hash distance ascending.
type CandidateRow struct {
	ID       string `gorm:"column:id"`
	Distance int    `gorm:"column:distance"`
	Bucket   int    `gorm:"column:bucket"`
}

// MetricsAggregation carries the raw search-log aggregates.
type MetricsAggregation struct {
	TotalCount         int64   `gorm:"column:total_count"`
	MatchedCount       int64   `gorm:"column:matched_count"`
	AverageGoodMatches float64 `gorm:"column:average_good_matches"`
}
