/*
Copyright 2025 Clear Transcript Authors.

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

	"github.com/gistrec/clear-transcript"
	"github.com/gistrec/clear-transcript/api/middleware"
	"github.com/gistrec/clear-transcript/config"
)

type Api struct {
	service *transcript.Transcript
	router  *gin.Engine
}

func (a Api) Router() *gin.Engine {
	router := a.router

	router.POST("/tasks", a.SubmitTask)
	router.POST("/tasks/:id/confirm", a.ConfirmTask)
	router.POST("/tasks/:id/cancel", a.CancelTask)
	router.GET("/tasks", a.ListTasks)
	router.GET("/tasks/:id", a.GetTask)

	router.GET("/balance", a.GetBalance)
	router.POST("/topup", a.InitTopUp)

	return a.router
}

func NewAPI(service *transcript.Transcript) *Api {
	gin.SetMode(gin.ReleaseMode)
	conf, err := config.Fetch()
	if err != nil {
		return nil
	}

	r := gin.Default()
	r.Use(middleware.RateLimitMiddleware(conf))

	r.GET("/", func(c *gin.Context) {
		c.JSON(200, "server running...")
	})

	r.Use(middleware.UserIdentityMiddleware())

	return &Api{service: service, router: r}
}
