package server

import "github.com/gin-gonic/gin"

// SetupRouter wires the API routes onto a gin engine.
func SetupRouter(ctrl *Controller) *gin.Engine {
	r := gin.Default()

	api := r.Group("/api")
	{
		carousels := api.Group("/carousels")
		{
			carousels.GET("", ctrl.ListCarousels)
			carousels.GET("/:id", ctrl.GetCarousel)
		}

		edits := api.Group("/edits")
		{
			edits.POST("", ctrl.CreateEdit)
			edits.GET("/:id", ctrl.GetEdit)
			edits.POST("/:id/approve", ctrl.ApproveEdit)
			edits.POST("/:id/reject", ctrl.RejectEdit)
		}

		batches := api.Group("/batches")
		{
			batches.GET("", ctrl.ListBatches)
			batches.GET("/:id", ctrl.GetBatch)
			batches.GET("/:id/download", ctrl.DownloadBatch)
		}
	}

	return r
}
