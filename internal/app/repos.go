package app

import (
	"gorm.io/gorm"

	"github.com/hiddenhill/papervid-backend/internal/logger"
	"github.com/hiddenhill/papervid-backend/internal/repos"
)

type Repos struct {
	VideoJob repos.VideoJobRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	log.Info("Wiring repos...")
	return Repos{
		VideoJob: repos.NewVideoJobRepo(db, log),
	}
}
