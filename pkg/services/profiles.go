package services

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
	"github.com/trustbroker/trustbroker/pkg/engines/storage"
	"github.com/trustbroker/trustbroker/pkg/errs"
	"github.com/trustbroker/trustbroker/pkg/helpers"
	"github.com/trustbroker/trustbroker/pkg/models"
)

var profileValidate = validator.New()

type ProfileServiceBackend struct {
	profilesStorage storage.ProfileRepo
	logger          *logrus.Entry
}

type ProfileServiceBuilder struct {
	Logger          *logrus.Entry
	ProfilesStorage storage.ProfileRepo
}

func NewProfileService(builder ProfileServiceBuilder) ProfileService {
	return &ProfileServiceBackend{
		profilesStorage: builder.ProfilesStorage,
		logger:          builder.Logger,
	}
}

func (svc *ProfileServiceBackend) GetProfiles(ctx context.Context, input GetProfilesInput) error {
	lFunc := helpers.ConfigureLogger(ctx, svc.logger)

	lFunc.Debugf("reading all enrollment profiles")
	return svc.profilesStorage.SelectAll(ctx, input.ApplyFunc)
}

func (svc *ProfileServiceBackend) GetProfileByName(ctx context.Context, input GetProfileByNameInput) (*models.EnrollmentProfile, error) {
	lFunc := helpers.ConfigureLogger(ctx, svc.logger)

	if err := profileValidate.Struct(input); err != nil {
		lFunc.Errorf("struct validation error: %s", err)
		return nil, errs.ErrValidateBadRequest
	}

	exists, profile, err := svc.profilesStorage.SelectExists(ctx, input.Name)
	if err != nil {
		lFunc.Errorf("could not read profile %s: %s", input.Name, err)
		return nil, err
	}

	if !exists {
		lFunc.Warnf("profile %s does not exist", input.Name)
		return nil, errs.ErrProfileNotFound
	}

	return profile, nil
}

func (svc *ProfileServiceBackend) CreateProfile(ctx context.Context, input CreateProfileInput) (*models.EnrollmentProfile, error) {
	lFunc := helpers.ConfigureLogger(ctx, svc.logger)

	if err := profileValidate.Struct(input); err != nil {
		lFunc.Errorf("struct validation error: %s", err)
		return nil, errs.ErrValidateBadRequest
	}

	if err := input.Profile.Validate(); err != nil {
		lFunc.Errorf("profile %s is inconsistent: %s", input.Profile.Name, err)
		return nil, errs.ErrProfileInconsistent
	}

	exists, _, err := svc.profilesStorage.SelectExists(ctx, input.Profile.Name)
	if err != nil {
		lFunc.Errorf("could not read profile %s: %s", input.Profile.Name, err)
		return nil, err
	}

	if exists {
		lFunc.Warnf("profile %s already exists", input.Profile.Name)
		return nil, errs.ErrProfileAlreadyExists
	}

	input.Profile.CreationDate = time.Now()

	profile, err := svc.profilesStorage.Insert(ctx, input.Profile)
	if err != nil {
		lFunc.Errorf("could not insert profile %s: %s", input.Profile.Name, err)
		return nil, err
	}

	lFunc.Infof("created enrollment profile %s (%s)", profile.Name, profile.Protocol)
	return profile, nil
}

func (svc *ProfileServiceBackend) UpdateProfile(ctx context.Context, input UpdateProfileInput) (*models.EnrollmentProfile, error) {
	lFunc := helpers.ConfigureLogger(ctx, svc.logger)

	if err := profileValidate.Struct(input); err != nil {
		lFunc.Errorf("struct validation error: %s", err)
		return nil, errs.ErrValidateBadRequest
	}

	if err := input.Profile.Validate(); err != nil {
		lFunc.Errorf("profile %s is inconsistent: %s", input.Profile.Name, err)
		return nil, errs.ErrProfileInconsistent
	}

	exists, current, err := svc.profilesStorage.SelectExists(ctx, input.Profile.Name)
	if err != nil {
		lFunc.Errorf("could not read profile %s: %s", input.Profile.Name, err)
		return nil, err
	}

	if !exists {
		lFunc.Warnf("profile %s does not exist", input.Profile.Name)
		return nil, errs.ErrProfileNotFound
	}

	input.Profile.CreationDate = current.CreationDate

	profile, err := svc.profilesStorage.Update(ctx, input.Profile)
	if err != nil {
		lFunc.Errorf("could not update profile %s: %s", input.Profile.Name, err)
		return nil, err
	}

	return profile, nil
}

func (svc *ProfileServiceBackend) DeleteProfile(ctx context.Context, input DeleteProfileInput) error {
	lFunc := helpers.ConfigureLogger(ctx, svc.logger)

	if err := profileValidate.Struct(input); err != nil {
		lFunc.Errorf("struct validation error: %s", err)
		return errs.ErrValidateBadRequest
	}

	exists, _, err := svc.profilesStorage.SelectExists(ctx, input.Name)
	if err != nil {
		lFunc.Errorf("could not read profile %s: %s", input.Name, err)
		return err
	}

	if !exists {
		lFunc.Warnf("profile %s does not exist", input.Name)
		return errs.ErrProfileNotFound
	}

	if err := svc.profilesStorage.Delete(ctx, input.Name); err != nil {
		lFunc.Errorf("could not delete profile %s: %s", input.Name, err)
		return err
	}

	lFunc.Infof("deleted enrollment profile %s", input.Name)
	return nil
}
