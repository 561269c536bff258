package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"
)

const (
	invoiceNumberPrefix = "INV"
	invoiceNumberWidth  = 4
)

// nextInvoiceNumber allocates the next sequential number for the day,
// INV_YYYYMMDD_NNNN. It must run inside the invoice write transaction so
// the read-increment pair is covered by the store's single-writer lock.
func nextInvoiceNumber(tx *gorm.DB, now time.Time) (string, error) {
	base := fmt.Sprintf("%s_%s_", invoiceNumberPrefix, now.Format("20060102"))

	var last string
	err := tx.Model(&Invoice{}).
		Select("invoice_number").
		Where("invoice_number LIKE ?", base+"%").
		Order("id DESC").
		Limit(1).
		Scan(&last).Error
	if err != nil {
		return "", err
	}

	num := 0
	if last != "" {
		parts := strings.Split(last, "_")
		if n, perr := strconv.Atoi(parts[len(parts)-1]); perr == nil {
			num = n
		}
	}
	return fmt.Sprintf("%s%0*d", base, invoiceNumberWidth, num+1), nil
}
