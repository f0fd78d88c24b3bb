package usecase

import (
	"context"
	"time"
)

// ModalityStatus reports what is on file for one biometric slot.
type ModalityStatus struct {
	Fingerprint    string `json:"fingerprint,omitempty"`
	Bucket         *int   `json:"bucket,omitempty"`
	HasDescriptors bool   `json:"has_descriptors"`
}

// SubjectProfile is the externally visible view of an enrolled subject. Raw
// image payloads and descriptor envelopes never leave the store through it.
type SubjectProfile struct {
	SubjectID      string         `json:"subject_id"`
	FirstName      string         `json:"first_name"`
	LastName       string         `json:"last_name"`
	Address        string         `json:"address,omitempty"`
	AdditionalInfo string         `json:"additional_info,omitempty"`
	Face           ModalityStatus `json:"face"`
	Thumb          ModalityStatus `json:"thumb"`
	CreatedAt      time.Time      `json:"created_at"`
}

// GetSubject loads an enrolled subject's profile.
func (uc *BiometricUseCase) GetSubject(ctx context.Context, subjectID string) (*SubjectProfile, error) {
	rec, err := uc.repo.FindSubjectByID(ctx, subjectID)
	if err != nil {
		return nil, err
	}

	return &SubjectProfile{
		SubjectID:      rec.ID,
		FirstName:      rec.FirstName,
		LastName:       rec.LastName,
		Address:        rec.Address,
		AdditionalInfo: rec.AdditionalInfo,
		Face:           modalityStatus(rec.FaceHash, rec.FaceBucket, rec.FaceFeatures),
		Thumb:          modalityStatus(rec.ThumbHash, rec.ThumbBucket, rec.ThumbFeatures),
		CreatedAt:      rec.CreatedAt,
	}, nil
}

func modalityStatus(hash *string, bucket *int, features *string) ModalityStatus {
	var status ModalityStatus
	if hash != nil {
		status.Fingerprint = *hash
	}
	status.Bucket = bucket
	status.HasDescriptors = features != nil && *features != ""
	return status
}
