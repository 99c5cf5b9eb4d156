package domain

// OrderRepository описывает требования к хранилищу заказов.
// Заказ и платёжная запись создаются вместе; их совместная мутация
// проходит только через ReconStore под контролем оркестратора.
type OrderRepository interface {
	// Create сохраняет новый заказ вместе с платёжной записью.
	// Возвращает ErrOrderExists, если запись с таким ID уже существует.
	Create(order Order, payment Payment) error
	// Get возвращает заказ по идентификатору или ErrOrderNotFound, если его нет.
	Get(id string) (Order, error)
	// GetWithPayment возвращает консистентный снапшот заказа и платежа.
	GetWithPayment(id string) (Order, Payment, error)
	// ListByCustomer возвращает заказы клиента с опциональным ограничением на количество.
	ListByCustomer(customerID string, limit int) ([]Order, error)
}
