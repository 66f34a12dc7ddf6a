package eventpub

import (
	"context"

	"github.com/trustbroker/trustbroker/pkg/models"
	"github.com/trustbroker/trustbroker/pkg/services"
)

type profileEventPublisher struct {
	next       services.ProfileService
	eventMWPub ICloudEventPublisher
}

func NewProfileEventPublisher(eventMWPub ICloudEventPublisher) services.ProfileMiddleware {
	return func(next services.ProfileService) services.ProfileService {
		return &profileEventPublisher{
			next:       next,
			eventMWPub: eventMWPub,
		}
	}
}

func (mw *profileEventPublisher) GetProfiles(ctx context.Context, input services.GetProfilesInput) error {
	return mw.next.GetProfiles(ctx, input)
}

func (mw *profileEventPublisher) GetProfileByName(ctx context.Context, input services.GetProfileByNameInput) (*models.EnrollmentProfile, error) {
	return mw.next.GetProfileByName(ctx, input)
}

func (mw *profileEventPublisher) CreateProfile(ctx context.Context, input services.CreateProfileInput) (out *models.EnrollmentProfile, err error) {
	defer func() {
		if err == nil {
			mw.eventMWPub.PublishCloudEvent(ctx, models.EventProfileCreatedKey, models.ProfileEvent{
				Name:     out.Name,
				Protocol: out.Protocol,
			})
		}
	}()
	return mw.next.CreateProfile(ctx, input)
}

func (mw *profileEventPublisher) UpdateProfile(ctx context.Context, input services.UpdateProfileInput) (*models.EnrollmentProfile, error) {
	return mw.next.UpdateProfile(ctx, input)
}

func (mw *profileEventPublisher) DeleteProfile(ctx context.Context, input services.DeleteProfileInput) (err error) {
	defer func() {
		if err == nil {
			mw.eventMWPub.PublishCloudEvent(ctx, models.EventProfileDeletedKey, models.ProfileEvent{
				Name: input.Name,
			})
		}
	}()
	return mw.next.DeleteProfile(ctx, input)
}
