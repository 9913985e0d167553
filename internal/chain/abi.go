package chain

import (
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const instanceABIJSON = `[
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "bytes32", "name": "commitment", "type": "bytes32"},
      {"indexed": false, "internalType": "uint32", "name": "leafIndex", "type": "uint32"},
      {"indexed": false, "internalType": "uint256", "name": "timestamp", "type": "uint256"}
    ],
    "name": "Deposit",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": false, "internalType": "address", "name": "to", "type": "address"},
      {"indexed": false, "internalType": "bytes32", "name": "nullifierHash", "type": "bytes32"},
      {"indexed": true, "internalType": "address", "name": "relayer", "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "fee", "type": "uint256"}
    ],
    "name": "Withdrawal",
    "type": "event"
  },
  {
    "inputs": [{"internalType": "bytes32", "name": "_root", "type": "bytes32"}],
    "name": "isKnownRoot",
    "outputs": [{"internalType": "bool", "name": "", "type": "bool"}],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "inputs": [{"internalType": "bytes32", "name": "_nullifierHash", "type": "bytes32"}],
    "name": "isSpent",
    "outputs": [{"internalType": "bool", "name": "", "type": "bool"}],
    "stateMutability": "view",
    "type": "function"
  }
]`

const proxyABIJSON = `[
  {
    "inputs": [
      {"internalType": "contract ITornadoInstance", "name": "_tornado", "type": "address"},
      {"internalType": "bytes", "name": "_proof", "type": "bytes"},
      {"internalType": "bytes32", "name": "_root", "type": "bytes32"},
      {"internalType": "bytes32", "name": "_nullifierHash", "type": "bytes32"},
      {"internalType": "address payable", "name": "_recipient", "type": "address"},
      {"internalType": "address payable", "name": "_relayer", "type": "address"},
      {"internalType": "uint256", "name": "_fee", "type": "uint256"},
      {"internalType": "uint256", "name": "_refund", "type": "uint256"}
    ],
    "name": "withdraw",
    "outputs": [],
    "stateMutability": "payable",
    "type": "function"
  }
]`

var (
	instanceABI     abi.ABI
	instanceABIOnce sync.Once
	instanceABIErr  error

	proxyABI     abi.ABI
	proxyABIOnce sync.Once
	proxyABIErr  error
)

// InstanceABI returns the parsed pool instance ABI.
func InstanceABI() (abi.ABI, error) {
	instanceABIOnce.Do(func() {
		instanceABI, instanceABIErr = abi.JSON(strings.NewReader(instanceABIJSON))
	})
	return instanceABI, instanceABIErr
}

// ProxyABI returns the parsed withdrawal proxy ABI.
func ProxyABI() (abi.ABI, error) {
	proxyABIOnce.Do(func() {
		proxyABI, proxyABIErr = abi.JSON(strings.NewReader(proxyABIJSON))
	})
	return proxyABI, proxyABIErr
}
