package logging

import "go.uber.org/zap"

// New returns a console logger for dev/test and a JSON logger otherwise.
func New(appEnv string) (*zap.Logger, error) {
	switch appEnv {
	case "dev", "development", "test":
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
