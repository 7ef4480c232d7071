/*
Copyright 2024 Payline Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package api

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/payline-io/payline"
	"github.com/payline-io/payline/api/middleware"
	"github.com/payline-io/payline/config"
)

type Api struct {
	payline *payline.Payline
	router  *gin.Engine
}

func (a Api) Router() *gin.Engine {
	router := a.router
	router.POST("/project-ids", a.AllocateProjectID)

	router.POST("/projects", a.CreateProject)
	router.GET("/projects/:id", a.GetProject)
	router.POST("/projects/:id/activate", a.ActivateProject)
	router.GET("/projects/:id/invoices", a.GetProjectInvoices)
	router.GET("/projects/:id/payout-readiness", a.CheckPayoutReadiness)
	router.POST("/projects/:id/payouts", a.ExecuteFinalPayout)
	router.POST("/projects/:id/manual-payouts", a.ExecuteManualPayout)
	router.GET("/projects/:id/reconciliation", a.ReconcileProject)

	router.POST("/tasks", a.CreateTask)
	router.GET("/tasks/:id", a.GetTask)
	router.POST("/tasks/:id/submit", a.SubmitTask)
	router.POST("/tasks/:id/approve", a.ApproveTask)
	router.POST("/tasks/:id/reject", a.RejectTask)
	router.POST("/tasks/:id/rollback", a.RollbackTaskApproval)

	router.POST("/invoices/:id/pay", a.MarkInvoicePaid)
	router.GET("/wallets/:user_id", a.GetWalletStatement)
	return a.router
}

func NewAPI(p *payline.Payline) *Api {
	gin.SetMode(gin.ReleaseMode)
	conf, err := config.Fetch()
	if err != nil {
		return nil
	}
	r := gin.Default()
	r.Use(otelgin.Middleware("payline"))
	r.Use(middleware.RateLimitMiddleware(conf))
	if conf.Server.Secure {
		r.Use(middleware.SecretKeyAuthMiddleware())
	}

	r.GET("/", func(c *gin.Context) {
		c.JSON(200, "server running...")
	})

	return &Api{payline: p, router: r}
}
