package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/trustbroker/trustbroker/pkg/controllers"
	"github.com/trustbroker/trustbroker/pkg/services"
)

func NewProfileHTTPLayer(logger *logrus.Entry, httpGrp *gin.RouterGroup, svc services.ProfileService) {
	routes := controllers.NewProfileHttpRoutes(svc)

	rv1 := httpGrp.Group("/v1")

	rv1.GET("/profiles", routes.GetAllProfiles)
	rv1.POST("/profiles", routes.CreateProfile)
	rv1.GET("/profiles/:name", routes.GetProfileByName)
	rv1.PUT("/profiles/:name", routes.UpdateProfile)
	rv1.DELETE("/profiles/:name", routes.DeleteProfile)
}
