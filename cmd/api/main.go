package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rollcall/internal/auth"
	"rollcall/internal/config"
	"rollcall/internal/httpmiddleware"
	"rollcall/internal/metrics"
	"rollcall/internal/queue"
	"rollcall/internal/roster"
	"rollcall/internal/scan"
	"rollcall/internal/store"
)

func main() {
	cfg := config.Load()

	// Set Gin mode based on environment
	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	var db *store.DB
	var rosterStore roster.Store
	if cfg.StoreBackend == "memory" {
		rosterStore = roster.NewMemStore()
		log.Println("using in-memory store")
	} else {
		var err error
		db, err = store.NewDB(cfg.DatabaseURL)
		if err != nil {
			log.Printf("warning: db not reachable: %v", err)
		}
		defer func() {
			if db != nil {
				_ = db.Close()
			}
		}()
		if db == nil {
			log.Println("db unavailable, falling back to in-memory store")
			rosterStore = roster.NewMemStore()
		} else {
			rosterStore = roster.NewRepository(db.Client)
		}
	}

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "rollcall:attendance")
	}

	resolver := roster.NewResolver(rosterStore, cfg.SessionWindow)
	recorder := roster.NewRecorder(rosterStore, resolver)
	scanners := scan.NewManager(rosterStore, recorder, cfg.ScanCooldown, scan.LogFeedback{}, func(courseID, studentID string) {
		metrics.AttendanceLogged.Inc()
		log.Printf("attendance logged: course=%s student=%s", courseID, studentID)
	})
	ctx := context.Background()

	r := gin.New()

	// Recovery middleware
	r.Use(gin.Recovery())

	// Custom logger
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))

	// CORS middleware
	r.Use(corsMiddleware())

	// Security headers
	r.Use(securityHeaders())

	// Rate limiting
	r.Use(httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := redisClient.Healthy(c.Request.Context())
		dbHealthy := storeHealthy(c.Request.Context(), cfg.StoreBackend, db)
		status := http.StatusOK
		if !redisHealthy || !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "store": dbHealthy})
	})

	r.POST("/v1/devices/register", func(c *gin.Context) {
		var req struct {
			DeviceID string `json:"device_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		tokens, err := auth.Issue(req.DeviceID, auth.RoleScanner, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}

		c.JSON(http.StatusCreated, gin.H{
			"access_token":  tokens.AccessToken,
			"refresh_token": tokens.RefreshToken,
			"expires_at":    tokens.AccessExp.Unix(),
		})
	})

	authGroup := r.Group("/v1", auth.Require(cfg.JWTSigningKey, cfg.JWTIssuer))

	authGroup.POST("/leaders", func(c *gin.Context) {
		var req struct {
			Name string `json:"name" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		leader, err := rosterStore.CreateLeader(c.Request.Context(), req.Name)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, leader)
	})

	authGroup.POST("/courses", func(c *gin.Context) {
		var req struct {
			Code     string `json:"code" binding:"required"`
			LeaderID string `json:"leader_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		course, err := rosterStore.CreateCourse(c.Request.Context(), req.Code, req.LeaderID)
		if err != nil {
			if errors.Is(err, roster.ErrDuplicateCourse) {
				c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, course)
	})

	authGroup.GET("/courses", func(c *gin.Context) {
		leaderID := c.Query("leader_id")
		if leaderID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "leader_id required"})
			return
		}
		courses, err := rosterStore.ListCourses(c.Request.Context(), leaderID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"courses": courses})
	})

	authGroup.PUT("/courses/:id", func(c *gin.Context) {
		var req struct {
			Code string `json:"code" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		course, err := rosterStore.RenameCourse(c.Request.Context(), c.Param("id"), req.Code)
		if err != nil {
			switch {
			case errors.Is(err, roster.ErrDuplicateCourse):
				c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			case errors.Is(err, roster.ErrNotFound):
				c.JSON(http.StatusNotFound, gin.H{"error": "course not found"})
			default:
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			}
			return
		}
		c.JSON(http.StatusOK, course)
	})

	authGroup.DELETE("/courses/:id", func(c *gin.Context) {
		if err := rosterStore.DeleteCourse(c.Request.Context(), c.Param("id")); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.Status(http.StatusNoContent)
	})

	authGroup.POST("/courses/:id/sessions", func(c *gin.Context) {
		session, err := resolver.StartSession(c.Request.Context(), c.Param("id"), time.Now())
		if err != nil {
			if errors.Is(err, roster.ErrDuplicateSession) {
				c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		metrics.SessionsStarted.Inc()
		c.JSON(http.StatusCreated, session)
	})

	authGroup.GET("/courses/:id/sessions", func(c *gin.Context) {
		summaries, err := rosterStore.ListSessionSummaries(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"sessions": summaries})
	})

	authGroup.GET("/courses/:id/attendance", func(c *gin.Context) {
		records, err := rosterStore.ListAttendanceForCourse(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"attendance": records})
	})

	authGroup.GET("/sessions/:id/attendance", func(c *gin.Context) {
		records, err := rosterStore.ListAttendanceForSession(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"attendance": records})
	})

	authGroup.GET("/sessions/:id/count", func(c *gin.Context) {
		n, err := redisClient.SessionCount(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"session_id": c.Param("id"), "count": n})
	})

	authGroup.POST("/scanner/activate", func(c *gin.Context) {
		var req struct {
			CourseID string `json:"course_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		claims, ok := auth.FromContext(c)
		if !ok || claims.Subject == "" {
			c.JSON(http.StatusForbidden, gin.H{"error": "device identity missing"})
			return
		}
		course, err := rosterStore.GetCourse(c.Request.Context(), req.CourseID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if course == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "course not found"})
			return
		}
		in := scanners.Activate(claims.Subject, req.CourseID)
		if err := rosterStore.TouchCourse(c.Request.Context(), req.CourseID, time.Now()); err != nil {
			log.Printf("touch course %s failed: %v", req.CourseID, err)
		}
		c.JSON(http.StatusOK, gin.H{"course_id": req.CourseID, "phase": in.Phase().String()})
	})

	authGroup.POST("/scanner/deactivate", func(c *gin.Context) {
		claims, _ := auth.FromContext(c)
		scanners.Deactivate(claims.Subject)
		c.Status(http.StatusNoContent)
	})

	authGroup.POST("/scanner/scan", func(c *gin.Context) {
		var req struct {
			Payload   string     `json:"payload" binding:"required"`
			DecodedAt *time.Time `json:"decoded_at"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		claims, _ := auth.FromContext(c)
		in := scanners.Get(claims.Subject)
		if in == nil {
			c.JSON(http.StatusConflict, gin.H{"error": "scanner not activated"})
			return
		}

		decodedAt := time.Now()
		if req.DecodedAt != nil {
			decodedAt = *req.DecodedAt
		}

		outcome := in.HandleDecode(c.Request.Context(), scan.DecodeEvent{Payload: req.Payload, DecodedAt: decodedAt})
		metrics.ScanOutcomes.WithLabelValues(outcome.Kind.String()).Inc()

		resp := gin.H{"outcome": outcome.Kind.String(), "phase": in.Phase().String()}
		if outcome.StudentID != "" {
			resp["student_id"] = outcome.StudentID
		}
		if outcome.Kind == scan.Rejected && outcome.Err != nil {
			metrics.ScanRejections.WithLabelValues(rejectionCause(outcome.Err)).Inc()
			resp["message"] = outcome.Err.Error()
		}
		if outcome.Kind == scan.Logged {
			if err := q.Publish(ctx, queue.AttendanceLogged{
				AttendanceID: outcome.Attendance.ID,
				CourseID:     in.CourseID(),
				SessionID:    outcome.Attendance.SessionID,
				StudentID:    outcome.StudentID,
				TakenAt:      outcome.Attendance.TakenAt,
			}); err != nil {
				log.Printf("queue publish failed: %v", err)
			}
		}

		c.JSON(http.StatusOK, resp)
	})

	// Graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}

// storeHealthy reports whether the configured store can serve requests. A DB
// handle can exist while Postgres is unreachable, so it pings rather than
// checking for nil.
func storeHealthy(ctx context.Context, backend string, db *store.DB) bool {
	if backend == "memory" {
		return true
	}
	if db == nil || db.Client == nil {
		return false
	}
	return db.Client.PingContext(ctx) == nil
}

// rejectionCause maps recorder errors to stable metric labels.
func rejectionCause(err error) string {
	switch {
	case errors.Is(err, roster.ErrNoActiveSession):
		return "no_active_session"
	case errors.Is(err, roster.ErrSignatureMismatch):
		return "signature_mismatch"
	case errors.Is(err, roster.ErrDuplicateAttendance):
		return "duplicate_attendance"
	default:
		return "store_error"
	}
}

// CORS middleware for browser requests
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		// Only add HSTS in production
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
