package engine

// Operation names a privileged engine entry point for capability checks.
type Operation string

const (
	OpInitializePool   Operation = "initialize_pool"
	OpPoke             Operation = "poke"
	OpSetYieldSource   Operation = "set_yield_source"
	OpPause            Operation = "pause"
	OpCollectFees      Operation = "collect_fees"
	OpSetVaultFee      Operation = "set_vault_fee"
	OpProvideLiquidity Operation = "provide_liquidity"
)

// Authorizer is the single capability check injected into the engine. The
// host's role system stays outside; the engine only ever asks one question.
type Authorizer interface {
	Authorize(caller string, op Operation) bool
}

// StaticAuthorizer is a fixed grant table, sufficient for the daemon and for
// tests.
type StaticAuthorizer struct {
	grants map[string]map[Operation]bool
}

func NewStaticAuthorizer() *StaticAuthorizer {
	return &StaticAuthorizer{grants: make(map[string]map[Operation]bool)}
}

// Grant allows caller to perform the listed operations.
func (a *StaticAuthorizer) Grant(caller string, ops ...Operation) *StaticAuthorizer {
	set, ok := a.grants[caller]
	if !ok {
		set = make(map[Operation]bool)
		a.grants[caller] = set
	}
	for _, op := range ops {
		set[op] = true
	}
	return a
}

func (a *StaticAuthorizer) Authorize(caller string, op Operation) bool {
	return a.grants[caller][op]
}
