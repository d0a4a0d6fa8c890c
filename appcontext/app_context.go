package appcontext

import (
	"github.com/numtide/cert-renewer/config"
	"go.uber.org/zap"
)

// AppContext is built once in main and handed to every component constructor.
type AppContext struct {
	Config config.Config
	Logger *zap.SugaredLogger
}
