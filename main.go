package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	gzip "github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/spf13/viper"

	"github.com/sevasetu/donation-service/routes"
	"github.com/sevasetu/donation-service/services"
	"github.com/sevasetu/donation-service/utils"
)

func main() {
	execDir, err := filepath.Abs(filepath.Dir(os.Args[0]))
	if err != nil {
		log.Fatalf("Failed to get exec dir: %v", err)
	}

	// Load config from the working directory first, exec dir as fallback.
	viper.SetConfigFile("config.yaml")
	if err := viper.ReadInConfig(); err != nil {
		viper.SetConfigFile(filepath.Join(execDir, "config.yaml"))
		if err := viper.ReadInConfig(); err != nil {
			log.Fatalf("Failed to read config: %v", err)
		}
	}

	viper.SetDefault("server.port", 9090)
	viper.SetDefault("donation.max_amount", 100000)
	viper.SetDefault("donation.currency", "INR")
	viper.SetDefault("donation.purpose", "donation")

	if err := utils.InitDatabase(
		viper.GetString("mysql.host"),
		viper.GetString("mysql.user"),
		viper.GetString("mysql.password"),
		viper.GetString("mysql.dbname"),
		viper.GetInt("mysql.port"),
	); err != nil {
		log.Fatalf("Database connection failed: %v", err)
	}
	utils.MigrateDatabase()
	log.Printf("Database connected successfully")

	gateway := services.NewRazorpayClient(services.RazorpayConfig{
		KeyID:     viper.GetString("razorpay.key_id"),
		KeySecret: viper.GetString("razorpay.key_secret"),
		APIURL:    viper.GetString("razorpay.api_url"),
	})

	store := services.NewDonationStore(utils.DB)
	donationService := services.NewDonationService(store, gateway, services.DonationConfig{
		MaxAmount:     viper.GetInt("donation.max_amount"),
		Currency:      viper.GetString("donation.currency"),
		KeySecret:     viper.GetString("razorpay.key_secret"),
		WebhookSecret: viper.GetString("razorpay.webhook_secret"),
		Purpose:       viper.GetString("donation.purpose"),
	})

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.SetTrustedProxies([]string{"127.0.0.1"})
	router.Use(gin.Recovery())
	router.Use(gzip.Gzip(gzip.DefaultCompression))

	// Security headers and CORS
	router.Use(func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")

		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	apiRoutes := routes.NewAPIRoutes(
		donationService,
		viper.GetString("auth.jwt_secret"),
		viper.GetString("donation.page_url"),
	)
	apiRoutes.SetupRoutes(router)

	port := viper.GetInt("server.port")
	addr := fmt.Sprintf(":%d", port)

	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Printf("Donation service running on http://localhost%s", addr)

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Failed to start server: %v", err)
	}
}
