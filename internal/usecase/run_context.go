package usecase

import (
	"github.com/Harsh-BH/Sentinel/orchestrator/internal/config"
	"github.com/Harsh-BH/Sentinel/orchestrator/internal/ledger"
	"github.com/Harsh-BH/Sentinel/orchestrator/internal/shutdown"
)

// RunContext is the state shared by every worker of one run. It is passed
// explicitly; nothing here lives in package globals.
type RunContext struct {
	Token  *shutdown.Token
	Ledger *ledger.Ledger
	Config *config.Config
}
