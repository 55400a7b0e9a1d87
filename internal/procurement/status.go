package procurement

import "fmt"

// requestTransitions lists every legal request status change. order_created and
// completed are only reachable from the order and expense flows.
var requestTransitions = map[RequestStatus][]RequestStatus{
	RequestDraft:             {RequestPendingApproval, RequestCancelled},
	RequestPendingApproval:   {RequestApproved, RequestInQuotation, RequestRejected, RequestCancelled},
	RequestApproved:          {RequestQuotationReceived, RequestInEvaluation, RequestOrderCreated, RequestCancelled},
	RequestInQuotation:       {RequestQuotationReceived, RequestInEvaluation, RequestOrderCreated, RequestCancelled},
	RequestQuotationReceived: {RequestInEvaluation, RequestOrderCreated, RequestCancelled},
	RequestInEvaluation:      {RequestInEvaluation, RequestOrderCreated, RequestCancelled},
	RequestOrderCreated: {
		RequestCompleted, RequestCancelled,
		// reopened when its order is deleted or cancelled
		RequestApproved, RequestInQuotation, RequestQuotationReceived, RequestInEvaluation,
	},
	RequestRejected:  {RequestCancelled},
	RequestCompleted: nil,
	RequestCancelled: nil,
}

// orderTransitions lists every legal order status change.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderDraft:             {OrderSent, OrderConfirmed, OrderPartiallyReceived, OrderReceived, OrderInvoiced, OrderCancelled},
	OrderSent:              {OrderConfirmed, OrderPartiallyReceived, OrderReceived, OrderInvoiced, OrderCancelled},
	OrderConfirmed:         {OrderPartiallyReceived, OrderReceived, OrderInvoiced, OrderCancelled},
	OrderPartiallyReceived: {OrderReceived, OrderInvoiced, OrderCancelled},
	OrderReceived:          {OrderInvoiced, OrderCancelled},
	OrderInvoiced:          {OrderPaid},
	OrderPaid:              nil,
	OrderCancelled:         nil,
}

// Valid reports whether s is a known request status.
func (s RequestStatus) Valid() bool {
	_, ok := requestTransitions[s]
	return ok
}

// CanTransitionTo reports whether the table allows s -> next.
func (s RequestStatus) CanTransitionTo(next RequestStatus) bool {
	for _, candidate := range requestTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s RequestStatus) Terminal() bool {
	return s == RequestCompleted || s == RequestCancelled
}

// Ordered reports whether the request already has an order or is finished.
func (s RequestStatus) Ordered() bool {
	return s == RequestOrderCreated || s == RequestCompleted
}

// Orderable reports whether an order may be issued from a request in status s.
func (s RequestStatus) Orderable() bool {
	switch s {
	case RequestApproved, RequestInQuotation, RequestQuotationReceived, RequestInEvaluation:
		return true
	}
	return false
}

// Valid reports whether s is a known order status.
func (s OrderStatus) Valid() bool {
	_, ok := orderTransitions[s]
	return ok
}

// CanTransitionTo reports whether the table allows s -> next.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, candidate := range orderTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// Valid reports whether s is a known quotation status.
func (s QuotationStatus) Valid() bool {
	switch s {
	case QuotationReceived, QuotationSelected, QuotationRejected:
		return true
	}
	return false
}

func requestConflict(from, to RequestStatus) error {
	return fmt.Errorf("%w: request cannot move from %s to %s", ErrStateConflict, from, to)
}

func orderConflict(from, to OrderStatus) error {
	return fmt.Errorf("%w: order cannot move from %s to %s", ErrStateConflict, from, to)
}
