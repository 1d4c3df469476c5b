package entity

import "time"

// Customer is a marketplace buyer.
type Customer struct {
	ID        string    `json:"id" firestore:"id"`
	Name      string    `json:"name" firestore:"name"`
	Email     string    `json:"email" firestore:"email"`
	CreatedAt time.Time `json:"created_at" firestore:"createdAt"`
}

// Operator is a merchant or staff member acting for one or more stores.
type Operator struct {
	ID        string    `json:"id" firestore:"id"`
	Name      string    `json:"name" firestore:"name"`
	Email     string    `json:"email" firestore:"email"`
	StoreIDs  []string  `json:"store_ids" firestore:"storeIds"`
	CreatedAt time.Time `json:"created_at" firestore:"createdAt"`
}

type Store struct {
	ID          string   `json:"id" firestore:"id"`
	Name        string   `json:"name" firestore:"name"`
	OperatorIDs []string `json:"operator_ids" firestore:"operatorIds"`
}
