package domain

import (
	"database/sql/driver"
	"fmt"
)

// Status columns are normalized when they cross the persistence boundary, so rows written
// as "APPROVED" or "Approved" by older clients load as the canonical value.

func scanString(src any) (string, error) {
	switch v := src.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case nil:
		return "", nil
	}
	return "", fmt.Errorf("unsupported status column type %T", src)
}

func (s *RoomStatus) Scan(src any) error {
	raw, err := scanString(src)
	if err != nil {
		return err
	}
	v, err := ParseRoomStatus(raw)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

func (s RoomStatus) Value() (driver.Value, error) { return string(s), nil }

func (s *BookingStatus) Scan(src any) error {
	raw, err := scanString(src)
	if err != nil {
		return err
	}
	v, err := ParseBookingStatus(raw)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

func (s BookingStatus) Value() (driver.Value, error) { return string(s), nil }

func (s *TenancyStatus) Scan(src any) error {
	raw, err := scanString(src)
	if err != nil {
		return err
	}
	v, err := ParseTenancyStatus(raw)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

func (s TenancyStatus) Value() (driver.Value, error) { return string(s), nil }

func (s *PaymentStatus) Scan(src any) error {
	raw, err := scanString(src)
	if err != nil {
		return err
	}
	v, err := ParsePaymentStatus(raw)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

func (s PaymentStatus) Value() (driver.Value, error) { return string(s), nil }

func (t *PaymentType) Scan(src any) error {
	raw, err := scanString(src)
	if err != nil {
		return err
	}
	v, err := ParsePaymentType(raw)
	if err != nil {
		return err
	}
	*t = v
	return nil
}

func (t PaymentType) Value() (driver.Value, error) { return string(t), nil }
