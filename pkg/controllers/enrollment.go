package controllers

import (
	"encoding/base64"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/trustbroker/trustbroker/pkg/errs"
	"github.com/trustbroker/trustbroker/pkg/helpers"
	"github.com/trustbroker/trustbroker/pkg/models"
	"github.com/trustbroker/trustbroker/pkg/services"
)

type EnrollmentHttpRoutes interface {
	ProcessCMP(ctx *gin.Context)
	SCEPOperation(ctx *gin.Context)
	ACMENewNonce(ctx *gin.Context)
	ProcessACME(ctx *gin.Context)
}

type enrollmentHttpRoutes struct {
	svc services.EnrollmentService
}

func NewEnrollmentHttpRoutes(svc services.EnrollmentService) EnrollmentHttpRoutes {
	return &enrollmentHttpRoutes{
		svc: svc,
	}
}

type profileUriParams struct {
	ProfileName string `uri:"profileName" binding:"required"`
}

func bindProfileUri(ctx *gin.Context, protocol models.ProtocolKind) (string, bool) {
	var params profileUriParams
	if err := ctx.ShouldBindUri(&params); err != nil {
		ctx.JSON(400, gin.H{"err": err.Error()})
		return "", false
	}

	ctx.Set(helpers.CtxProfile, params.ProfileName)
	ctx.Set(helpers.CtxProtocol, string(protocol))

	return params.ProfileName, true
}

func (r *enrollmentHttpRoutes) ProcessCMP(ctx *gin.Context) {
	profileName, ok := bindProfileUri(ctx, models.ProtocolCMP)
	if !ok {
		return
	}

	raw, err := io.ReadAll(ctx.Request.Body)
	if err != nil {
		ctx.JSON(400, gin.H{"err": err.Error()})
		return
	}

	response, err := r.svc.ProcessCMPMessage(ctx, services.ProcessMessageInput{
		ProfileName: profileName,
		RawMessage:  raw,
	})
	if err != nil {
		writeEnrollmentError(ctx, err)
		return
	}

	writeProtocolResponse(ctx, response)
}

func (r *enrollmentHttpRoutes) SCEPOperation(ctx *gin.Context) {
	profileName, ok := bindProfileUri(ctx, models.ProtocolSCEP)
	if !ok {
		return
	}

	operation := ctx.Query("operation")

	var message []byte
	if ctx.Request.Method == http.MethodPost {
		raw, err := io.ReadAll(ctx.Request.Body)
		if err != nil {
			ctx.JSON(400, gin.H{"err": err.Error()})
			return
		}
		message = raw
	} else if encoded := ctx.Query("message"); encoded != "" {
		raw, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			ctx.JSON(400, gin.H{"err": "message query parameter is not valid base64"})
			return
		}
		message = raw
	}

	response, err := r.svc.ProcessSCEPOperation(ctx, services.SCEPOperationInput{
		ProfileName: profileName,
		Operation:   models.Operation(operation),
		Message:     message,
	})
	if err != nil {
		writeEnrollmentError(ctx, err)
		return
	}

	writeProtocolResponse(ctx, response)
}

func (r *enrollmentHttpRoutes) ACMENewNonce(ctx *gin.Context) {
	profileName, ok := bindProfileUri(ctx, models.ProtocolACME)
	if !ok {
		return
	}

	nonce, err := r.svc.IssueNonce(ctx, services.IssueNonceInput{
		ProfileName: profileName,
	})
	if err != nil {
		writeEnrollmentError(ctx, err)
		return
	}

	ctx.Header("Replay-Nonce", nonce)
	ctx.Header("Cache-Control", "no-store")

	if ctx.Request.Method == http.MethodHead {
		ctx.Status(200)
		return
	}
	ctx.Status(204)
}

func (r *enrollmentHttpRoutes) ProcessACME(ctx *gin.Context) {
	profileName, ok := bindProfileUri(ctx, models.ProtocolACME)
	if !ok {
		return
	}

	raw, err := io.ReadAll(ctx.Request.Body)
	if err != nil {
		ctx.JSON(400, gin.H{"err": err.Error()})
		return
	}

	response, err := r.svc.ProcessACMEMessage(ctx, services.ProcessMessageInput{
		ProfileName: profileName,
		RawMessage:  raw,
		OrderID:     ctx.Param("orderID"),
	})
	if err != nil {
		writeEnrollmentError(ctx, err)
		return
	}

	writeProtocolResponse(ctx, response)
}

func writeProtocolResponse(ctx *gin.Context, response *services.ProtocolResponse) {
	if response.ReplayNonce != "" {
		ctx.Header("Replay-Nonce", response.ReplayNonce)
	}

	status := response.StatusCode
	if status == 0 {
		status = 200
	}

	ctx.Data(status, response.ContentType, response.Body)
}

// writeEnrollmentError maps errors the service could not answer with an
// encoded protocol message. Protocol failure codes only cross this boundary
// when the message never decoded far enough to build a response.
func writeEnrollmentError(ctx *gin.Context, err error) {
	if _, ok := errs.AsProviderError(err); ok {
		ctx.JSON(503, gin.H{"err": "key operations provider unavailable"})
		return
	}

	if pErr, ok := errs.AsProtocolError(err); ok {
		ctx.JSON(400, gin.H{"err": string(pErr.Code)})
		return
	}

	switch err {
	case errs.ErrProfileNotFound:
		ctx.JSON(404, gin.H{"err": errs.ErrProfileNotFound.Error()})
	case errs.ErrValidateBadRequest:
		ctx.JSON(400, gin.H{"err": err.Error()})
	default:
		// Unclassified failures stay internal; the diagnostic is logged,
		// not returned.
		ctx.JSON(500, gin.H{"err": "internal error"})
	}
}
