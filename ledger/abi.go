package ledger

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// recordRegistryABI is the interface of the record registry contract the
// service anchors into.
const recordRegistryABI = `[
  {"type":"function","name":"addRecord","stateMutability":"nonpayable",
   "inputs":[{"name":"ipfsHash","type":"string"},{"name":"recordType","type":"string"}],"outputs":[]},
  {"type":"function","name":"recordCount","stateMutability":"view",
   "inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"getRecord","stateMutability":"view",
   "inputs":[{"name":"id","type":"uint256"}],
   "outputs":[
     {"name":"id","type":"uint256"},
     {"name":"patient","type":"address"},
     {"name":"uploader","type":"address"},
     {"name":"ipfsHash","type":"string"},
     {"name":"recordType","type":"string"},
     {"name":"timestamp","type":"uint256"}]},
  {"type":"function","name":"grantAccess","stateMutability":"nonpayable",
   "inputs":[{"name":"faskes","type":"address"}],"outputs":[]},
  {"type":"function","name":"revokeAccess","stateMutability":"nonpayable",
   "inputs":[{"name":"faskes","type":"address"}],"outputs":[]},
  {"type":"function","name":"accessGranted","stateMutability":"view",
   "inputs":[{"name":"owner","type":"address"},{"name":"faskes","type":"address"}],
   "outputs":[{"name":"","type":"bool"}]}
]`

const (
	methodAddRecord     = "addRecord"
	methodRecordCount   = "recordCount"
	methodGetRecord     = "getRecord"
	methodGrantAccess   = "grantAccess"
	methodRevokeAccess  = "revokeAccess"
	methodAccessGranted = "accessGranted"
)

var contractABI = mustParseABI(recordRegistryABI)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic("ledger: invalid contract ABI: " + err.Error())
	}
	return parsed
}

// ContractABI returns the parsed record registry ABI.
func ContractABI() abi.ABI { return contractABI }
