package ledger

import (
	"fmt"
	"sort"

	"clearline/domain/market"
)

// Account is the per-(address, market) sub-account set. Long and Short are
// position magnitudes; netting-first discipline keeps at most one of them
// above zero.
type Account struct {
	Available      int64
	Long           int64
	Short          int64
	ReservedMargin int64
}

// Key identifies one account.
type Key struct {
	Addr     string
	MarketID string
}

// Ledger owns every account. It is a plain state object held by the engine
// and mutated only through netting-aware operations; there are no package
// globals, so independent instances can coexist (one per test, one per
// node).
type Ledger struct {
	accounts map[Key]*Account
}

func New() *Ledger {
	return &Ledger{accounts: make(map[Key]*Account)}
}

func (l *Ledger) get(addr, marketID string) *Account {
	k := Key{Addr: addr, MarketID: marketID}
	a := l.accounts[k]
	if a == nil {
		a = &Account{}
		l.accounts[k] = a
	}
	return a
}

// Account returns a copy of the account state, zero-valued if absent.
func (l *Ledger) Account(addr, marketID string) Account {
	if a, ok := l.accounts[Key{Addr: addr, MarketID: marketID}]; ok {
		return *a
	}
	return Account{}
}

// Deposit credits spendable balance. Used by tests and the deposit
// transaction path; not part of matching.
func (l *Ledger) Deposit(addr, marketID string, amount int64) {
	l.get(addr, marketID).Available += amount
}

// Reserve moves spendable balance into reserved margin for a resting order.
func (l *Ledger) Reserve(addr, marketID string, amount int64) error {
	a := l.get(addr, marketID)
	if a.Available < amount {
		return market.ErrInsufficientFunds
	}
	a.Available -= amount
	a.ReservedMargin += amount
	return nil
}

// Release returns reserved margin to spendable balance on cancel or fill.
func (l *Ledger) Release(addr, marketID string, amount int64) {
	a := l.get(addr, marketID)
	if a.ReservedMargin < amount {
		panic(fmt.Sprintf("ledger: releasing %d with only %d reserved for %s/%s",
			amount, a.ReservedMargin, addr, marketID))
	}
	a.ReservedMargin -= amount
	a.Available += amount
}

// Spend consumes spendable balance paid out in a spot match. The caller
// budgets against Available up front, so shortfall here is a bookkeeping
// fault.
func (l *Ledger) Spend(addr, marketID string, amount int64) {
	a := l.get(addr, marketID)
	if a.Available < amount {
		panic(fmt.Sprintf("ledger: spending %d with only %d available for %s/%s",
			amount, a.Available, addr, marketID))
	}
	a.Available -= amount
}

// SpendReserved consumes reserved balance sold out of a resting order.
func (l *Ledger) SpendReserved(addr, marketID string, amount int64) {
	a := l.get(addr, marketID)
	if a.ReservedMargin < amount {
		panic(fmt.Sprintf("ledger: spending %d with only %d reserved for %s/%s",
			amount, a.ReservedMargin, addr, marketID))
	}
	a.ReservedMargin -= amount
}

// Credit applies realized PNL to spendable balance. Negative amounts are
// allowed; settlement is zero-sum so the system total never drifts.
func (l *Ledger) Credit(addr, marketID string, amount int64) {
	l.get(addr, marketID).Available += amount
}

// ApplyLeg applies one decomposed trade leg to one participant: netting
// statuses decrement the opposite-direction position, opening statuses
// increment the new direction, both by exactly the leg amount.
func (l *Ledger) ApplyLeg(addr, marketID string, status market.PositionStatus, amount int64) {
	a := l.get(addr, marketID)
	switch {
	case status.Nets():
		if status.NettedSide() == market.Buy {
			a.Long -= amount
		} else {
			a.Short -= amount
		}
	case status.Opens():
		if status.OpenedSide() == market.Buy {
			a.Long += amount
		} else {
			a.Short += amount
		}
	default:
		panic(fmt.Sprintf("ledger: leg with status %s", status))
	}
	l.check(addr, marketID, a)
}

// check enforces the single-net-direction invariant. A violation means the
// decomposition emitted legs out of order, which would diverge replicas,
// so it is fatal.
func (l *Ledger) check(addr, marketID string, a *Account) {
	if a.Long < 0 || a.Short < 0 {
		panic(fmt.Sprintf("ledger: negative position for %s/%s long=%d short=%d",
			addr, marketID, a.Long, a.Short))
	}
	if a.Long > 0 && a.Short > 0 {
		panic(fmt.Sprintf("ledger: both-sided position for %s/%s long=%d short=%d",
			addr, marketID, a.Long, a.Short))
	}
}

// Walk visits every account in canonical (address, market) order. The
// iteration order is identical on every node, which is what the external
// checkpoint stage hashes.
func (l *Ledger) Walk(visit func(k Key, a Account)) {
	keys := make([]Key, 0, len(l.accounts))
	for k := range l.accounts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Addr != keys[j].Addr {
			return keys[i].Addr < keys[j].Addr
		}
		return keys[i].MarketID < keys[j].MarketID
	})
	for _, k := range keys {
		visit(k, *l.accounts[k])
	}
}
