package model

// Profile - контактные данные пользователя из внешнего сервиса профилей.
type Profile struct {
	UserID         int64
	Name           string
	Phone          string
	Address        string
	BusinessName   string
	BusinessNumber string
}

// SellerContact - контакты продавца, раскрываемые подтвердившему покупателю.
type SellerContact struct {
	SellerID       int64  `json:"seller_id"`
	Name           string `json:"name"`
	Phone          string `json:"phone"`
	BusinessName   string `json:"business_name,omitempty"`
	BusinessNumber string `json:"business_number,omitempty"`
	Address        string `json:"address,omitempty"`
}

// BuyerContact - контакты подтвердившего покупателя для продавца.
type BuyerContact struct {
	UserID  int64  `json:"user_id"`
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
}

// ContactRecord собирается на лету и никогда не сохраняется.
type ContactRecord struct {
	Seller *SellerContact `json:"seller,omitempty"`
	Buyers []BuyerContact `json:"buyers,omitempty"`
}
