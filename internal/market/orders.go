package market

import "sync"

// OrderSymbols remembers which venue symbol an order id belongs to, for
// venues whose cancel endpoint needs both. The lock covers map access only.
type OrderSymbols struct {
	mu      sync.Mutex
	symbols map[string]string
}

func NewOrderSymbols() *OrderSymbols {
	return &OrderSymbols{symbols: make(map[string]string)}
}

func (o *OrderSymbols) Put(orderID, symbol string) {
	if orderID == "" || symbol == "" {
		return
	}
	o.mu.Lock()
	o.symbols[orderID] = symbol
	o.mu.Unlock()
}

func (o *OrderSymbols) Get(orderID string) (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	sym, ok := o.symbols[orderID]
	return sym, ok
}

func (o *OrderSymbols) Delete(orderID string) {
	o.mu.Lock()
	delete(o.symbols, orderID)
	o.mu.Unlock()
}

func (o *OrderSymbols) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.symbols)
}
