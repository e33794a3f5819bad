package app

import (
	"strings"

	"github.com/hiddenhill/papervid-backend/internal/logger"
	"github.com/hiddenhill/papervid-backend/internal/utils"
)

type Config struct {
	Port         string
	MediaRoot    string
	AccessCode   string
	StorageMode  string
	AllowOrigins []string
}

func LoadConfig(log *logger.Logger) Config {
	port := utils.GetEnv("PORT", "8080", log)
	mediaRoot := utils.GetEnv("MEDIA_ROOT", "./media", log)
	accessCode := utils.GetEnv("ACCESS_CODE", "", log)
	storageMode := strings.ToLower(utils.GetEnv("STORAGE_MODE", "local", log))

	var origins []string
	for _, o := range strings.Split(utils.GetEnv("CORS_ALLOW_ORIGINS", "", log), ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}

	return Config{
		Port:         port,
		MediaRoot:    mediaRoot,
		AccessCode:   accessCode,
		StorageMode:  storageMode,
		AllowOrigins: origins,
	}
}
