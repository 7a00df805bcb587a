package transfer

import "fmt"

// ByteAccountingError indicates the bytes actually committed via
// finalizers didn't match the declared total.
type ByteAccountingError struct {
	Declared uint64
	Actual   uint64
}

func (e *ByteAccountingError) Error() string {
	return fmt.Sprintf("transfer: byte accounting mismatch: declared %d, committed %d", e.Declared, e.Actual)
}

// TransferRejectedError indicates the device refused a finalizer for a
// given partition.
type TransferRejectedError struct {
	ErrorCode   uint32
	PartitionID uint32
}

func (e *TransferRejectedError) Error() string {
	return fmt.Sprintf("transfer: device rejected transfer on partition %d: error code 0x%X", e.PartitionID, e.ErrorCode)
}
