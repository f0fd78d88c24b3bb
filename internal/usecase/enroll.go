package usecase

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/biomatch/internal/codec"
	"github.com/example/biomatch/internal/logging"
	"github.com/example/biomatch/internal/repository"
	"github.com/example/biomatch/internal/vision"
)

// EnrollInput carries one enrollment request. Both images are optional; a
// subject may be enrolled with one modality, both, or neither.
type EnrollInput struct {
	FirstName      string
	LastName       string
	Address        string
	AdditionalInfo string
	FaceImage      *string
	ThumbImage     *string
}

// ModalitySummary reports what enrollment derived for one biometric slot.
// Absent fields are expected outcomes: no image, a failing bucket lookup, or
// an image without extractable features.
type ModalitySummary struct {
	Fingerprint          string `json:"fingerprint,omitempty"`
	Bucket               *int   `json:"bucket,omitempty"`
	DescriptorsExtracted bool   `json:"descriptors_extracted"`
	Keypoints            int    `json:"keypoints"`
}

// EnrollResult is the outcome of one enrollment.
type EnrollResult struct {
	SubjectID string          `json:"subject_id"`
	Face      ModalitySummary `json:"face"`
	Thumb     ModalitySummary `json:"thumb"`
}

// Enroll derives fingerprint, bucket and descriptor envelope for each
// provided modality and persists the subject. An undecodable image is a true
// error and aborts the enrollment; a bucket-service failure or a featureless
// image only leaves the corresponding field absent.
func (uc *BiometricUseCase) Enroll(ctx context.Context, input EnrollInput) (*EnrollResult, error) {
	subjectID := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase.enroll", subjectID)

	rec := &repository.SubjectRecord{
		ID:             subjectID,
		FirstName:      input.FirstName,
		LastName:       input.LastName,
		Address:        input.Address,
		AdditionalInfo: input.AdditionalInfo,
		CreatedAt:      time.Now().UTC(),
	}
	res := &EnrollResult{SubjectID: subjectID}

	var err error
	if res.Face, err = uc.enrollModality(ctx, opLogger, repository.ModalityFace, input.FaceImage, rec); err != nil {
		return nil, err
	}
	if res.Thumb, err = uc.enrollModality(ctx, opLogger, repository.ModalityThumb, input.ThumbImage, rec); err != nil {
		return nil, err
	}

	if err := uc.repo.SaveSubject(ctx, rec); err != nil {
		opLogger.Error("failed to persist subject", zap.Error(err))
		return nil, err
	}

	opLogger.Info("subject enrolled",
		zap.Bool("face_fingerprint", res.Face.Fingerprint != ""),
		zap.Bool("thumb_fingerprint", res.Thumb.Fingerprint != ""),
		zap.Bool("face_descriptors", res.Face.DescriptorsExtracted),
		zap.Bool("thumb_descriptors", res.Thumb.DescriptorsExtracted),
	)
	return res, nil
}

func (uc *BiometricUseCase) enrollModality(ctx context.Context, opLogger *zap.Logger, m repository.Modality, payload *string, rec *repository.SubjectRecord) (ModalitySummary, error) {
	var out ModalitySummary
	if payload == nil || *payload == "" {
		return out, nil
	}
	modLogger := opLogger.With(zap.String("modality", string(m)))
	rec.SetImage(m, *payload)

	fingerprint, err := vision.Hash(*payload)
	if err != nil {
		return out, logging.NewOperationError("usecase.fingerprint", rec.ID, err)
	}
	out.Fingerprint = string(fingerprint)
	rec.SetHash(m, string(fingerprint))

	bucket, err := uc.repo.HashBucket(ctx, string(fingerprint))
	if err != nil {
		modLogger.Warn("hash bucket lookup failed", zap.Error(err))
	} else {
		out.Bucket = &bucket
		rec.SetBucket(m, bucket)
	}

	features, err := vision.ExtractFeatures(*payload)
	if err != nil {
		return out, logging.NewOperationError("usecase.extract_features", rec.ID, err)
	}
	if features.Empty() {
		modLogger.Info("no keypoints in enrollment image")
		return out, nil
	}

	envelope, err := codec.Encode(features)
	if err != nil {
		return out, logging.NewOperationError("usecase.encode_descriptors", rec.ID, err)
	}
	rec.SetFeatures(m, envelope)
	out.DescriptorsExtracted = true
	out.Keypoints = features.Rows
	return out, nil
}
