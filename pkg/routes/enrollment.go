package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/trustbroker/trustbroker/pkg/controllers"
	"github.com/trustbroker/trustbroker/pkg/services"
)

func NewEnrollmentHTTPLayer(logger *logrus.Entry, httpGrp *gin.RouterGroup, svc services.EnrollmentService) {
	routes := controllers.NewEnrollmentHttpRoutes(svc)

	rv1 := httpGrp.Group("/v1")

	rv1.POST("/cmp/:profileName", routes.ProcessCMP)

	rv1.GET("/scep/:profileName", routes.SCEPOperation)
	rv1.POST("/scep/:profileName", routes.SCEPOperation)

	rv1.HEAD("/acme/:profileName/new-nonce", routes.ACMENewNonce)
	rv1.GET("/acme/:profileName/new-nonce", routes.ACMENewNonce)
	rv1.POST("/acme/:profileName/new-order", routes.ProcessACME)
	rv1.POST("/acme/:profileName/order/:orderID/finalize", routes.ProcessACME)
	rv1.POST("/acme/:profileName/revoke-cert", routes.ProcessACME)
}
