package controllers

import (
	"github.com/gin-gonic/gin"
	"github.com/trustbroker/trustbroker/pkg/errs"
	"github.com/trustbroker/trustbroker/pkg/models"
	"github.com/trustbroker/trustbroker/pkg/resources"
	"github.com/trustbroker/trustbroker/pkg/services"
)

type ProfileHttpRoutes interface {
	GetAllProfiles(ctx *gin.Context)
	GetProfileByName(ctx *gin.Context)
	CreateProfile(ctx *gin.Context)
	UpdateProfile(ctx *gin.Context)
	DeleteProfile(ctx *gin.Context)
}

type profileHttpRoutes struct {
	svc services.ProfileService
}

func NewProfileHttpRoutes(svc services.ProfileService) ProfileHttpRoutes {
	return &profileHttpRoutes{
		svc: svc,
	}
}

func (r *profileHttpRoutes) GetAllProfiles(ctx *gin.Context) {
	profiles := []models.EnrollmentProfile{}
	err := r.svc.GetProfiles(ctx, services.GetProfilesInput{
		ApplyFunc: func(profile models.EnrollmentProfile) {
			profiles = append(profiles, profile)
		},
	})
	if err != nil {
		ctx.JSON(500, gin.H{"err": err.Error()})
		return
	}

	ctx.JSON(200, resources.GetProfilesResponse{
		Profiles: profiles,
	})
}

func (r *profileHttpRoutes) GetProfileByName(ctx *gin.Context) {
	type uriParams struct {
		Name string `uri:"name" binding:"required"`
	}

	var params uriParams
	if err := ctx.ShouldBindUri(&params); err != nil {
		ctx.JSON(400, gin.H{"err": err.Error()})
		return
	}

	profile, err := r.svc.GetProfileByName(ctx, services.GetProfileByNameInput{
		Name: params.Name,
	})
	if err != nil {
		switch err {
		case errs.ErrProfileNotFound:
			ctx.JSON(404, gin.H{"err": err.Error()})
		case errs.ErrValidateBadRequest:
			ctx.JSON(400, gin.H{"err": err.Error()})
		default:
			ctx.JSON(500, gin.H{"err": err.Error()})
		}
		return
	}

	ctx.JSON(200, profile)
}

func (r *profileHttpRoutes) CreateProfile(ctx *gin.Context) {
	var requestBody resources.CreateUpdateProfileBody
	if err := ctx.BindJSON(&requestBody); err != nil {
		ctx.AbortWithStatusJSON(400, gin.H{"err": err.Error()})
		return
	}

	profile := requestBody.ToProfile()
	created, err := r.svc.CreateProfile(ctx, services.CreateProfileInput{
		Profile: &profile,
	})
	if err != nil {
		switch err {
		case errs.ErrValidateBadRequest, errs.ErrProfileInconsistent:
			ctx.JSON(400, gin.H{"err": err.Error()})
		case errs.ErrProfileAlreadyExists:
			ctx.JSON(409, gin.H{"err": err.Error()})
		default:
			ctx.JSON(500, gin.H{"err": err.Error()})
		}
		return
	}

	ctx.JSON(201, created)
}

func (r *profileHttpRoutes) UpdateProfile(ctx *gin.Context) {
	type uriParams struct {
		Name string `uri:"name" binding:"required"`
	}

	var params uriParams
	if err := ctx.ShouldBindUri(&params); err != nil {
		ctx.JSON(400, gin.H{"err": err.Error()})
		return
	}

	var requestBody resources.CreateUpdateProfileBody
	if err := ctx.BindJSON(&requestBody); err != nil {
		ctx.AbortWithStatusJSON(400, gin.H{"err": err.Error()})
		return
	}

	profile := requestBody.ToProfile()
	profile.Name = params.Name

	updated, err := r.svc.UpdateProfile(ctx, services.UpdateProfileInput{
		Profile: &profile,
	})
	if err != nil {
		switch err {
		case errs.ErrProfileNotFound:
			ctx.JSON(404, gin.H{"err": err.Error()})
		case errs.ErrValidateBadRequest, errs.ErrProfileInconsistent:
			ctx.JSON(400, gin.H{"err": err.Error()})
		default:
			ctx.JSON(500, gin.H{"err": err.Error()})
		}
		return
	}

	ctx.JSON(200, updated)
}

func (r *profileHttpRoutes) DeleteProfile(ctx *gin.Context) {
	type uriParams struct {
		Name string `uri:"name" binding:"required"`
	}

	var params uriParams
	if err := ctx.ShouldBindUri(&params); err != nil {
		ctx.JSON(400, gin.H{"err": err.Error()})
		return
	}

	err := r.svc.DeleteProfile(ctx, services.DeleteProfileInput{
		Name: params.Name,
	})
	if err != nil {
		switch err {
		case errs.ErrProfileNotFound:
			ctx.JSON(404, gin.H{"err": err.Error()})
		case errs.ErrValidateBadRequest:
			ctx.JSON(400, gin.H{"err": err.Error()})
		default:
			ctx.JSON(500, gin.H{"err": err.Error()})
		}
		return
	}

	ctx.Status(204)
}
