package main

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/teslashibe/go-drive/pkg/autopilot"
	"github.com/teslashibe/go-drive/pkg/session"
)

// newApp builds the Fiber app: the Socket.IO endpoint plus status routes.
func newApp(hub *session.Hub, handler *autopilot.Handler, requestLog bool) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "drive",
		DisableStartupMessage: true,
	})

	// Middleware
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,OPTIONS",
	}))
	if requestLog {
		app.Use(logger.New())
	}

	hub.RegisterRoutes(app)

	api := app.Group("/api")
	hub.RegisterAPIRoutes(api)
	api.Get("/stats", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"hub":       hub.GetStats(),
			"autopilot": handler.Stats(),
		})
	})

	// Health endpoint
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":   "ok",
			"version":  version,
			"sessions": hub.SessionCount(),
		})
	})

	// Metrics endpoint
	app.Get("/metrics", func(c *fiber.Ctx) error {
		c.Set(fiber.HeaderContentType, "text/plain; version=0.0.4")
		return c.SendString(metricsText(hub.GetStats(), handler.Stats()))
	})

	return app
}

func metricsText(hs session.Stats, as autopilot.Metrics) string {
	return fmt.Sprintf(`# HELP drive_sessions Connected simulator sessions
# TYPE drive_sessions gauge
drive_sessions %d

# HELP drive_events_received Total Socket.IO events received
# TYPE drive_events_received counter
drive_events_received %d

# HELP drive_events_failed Total events whose handler returned an error
# TYPE drive_events_failed counter
drive_events_failed %d

# HELP drive_messages_sent Total messages queued to sessions
# TYPE drive_messages_sent counter
drive_messages_sent %d

# HELP drive_slow_sessions_dropped Sessions dropped for a full send buffer
# TYPE drive_slow_sessions_dropped counter
drive_slow_sessions_dropped %d

# HELP drive_steer_total Steer commands emitted
# TYPE drive_steer_total counter
drive_steer_total %d

# HELP drive_manual_total Manual mode signals emitted
# TYPE drive_manual_total counter
drive_manual_total %d

# HELP drive_inference_seconds Average model latency over recent frames
# TYPE drive_inference_seconds gauge
drive_inference_seconds %g

# HELP drive_frame_seconds Average telemetry-to-steer latency over recent frames
# TYPE drive_frame_seconds gauge
drive_frame_seconds %g

# HELP drive_steering_angle Last steering angle sent
# TYPE drive_steering_angle gauge
drive_steering_angle %g

# HELP drive_throttle Last throttle sent
# TYPE drive_throttle gauge
drive_throttle %g
`,
		hs.Sessions, hs.EventsReceived, hs.EventsFailed, hs.MessagesSent, hs.SlowDropped,
		as.Steer, as.Manual,
		as.Average.Inference.Seconds(), as.Average.Total.Seconds(),
		as.SteeringAngle, as.Throttle)
}
