package ledger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// registryABI covers the LandRegistry methods the gateway uses. A Hardhat
// artifact can replace it at startup through LoadABI.
const registryABI = `[
 {"type":"function","name":"registerUser","stateMutability":"nonpayable","inputs":[
  {"name":"_userAddress","type":"address"},{"name":"_name","type":"string"},{"name":"_email","type":"string"},{"name":"_isAdmin","type":"bool"}],"outputs":[]},
 {"type":"function","name":"revokeUser","stateMutability":"nonpayable","inputs":[{"name":"_userAddress","type":"address"}],"outputs":[]},
 {"type":"function","name":"reinstateUser","stateMutability":"nonpayable","inputs":[{"name":"_userAddress","type":"address"}],"outputs":[]},
 {"type":"function","name":"registerLand","stateMutability":"nonpayable","inputs":[
  {"name":"_landId","type":"string"},{"name":"_description","type":"string"},{"name":"_location","type":"string"},
  {"name":"_area","type":"uint256"},{"name":"_imageUrl","type":"string"},{"name":"_owner","type":"address"}],"outputs":[]},
 {"type":"function","name":"deleteLand","stateMutability":"nonpayable","inputs":[{"name":"_id","type":"uint256"}],"outputs":[]},
 {"type":"function","name":"requestTransfer","stateMutability":"nonpayable","inputs":[
  {"name":"_landId","type":"uint256"},{"name":"_to","type":"address"},{"name":"_price","type":"uint256"},{"name":"_message","type":"string"}],"outputs":[]},
 {"type":"function","name":"approveTransfer","stateMutability":"nonpayable","inputs":[{"name":"_requestId","type":"uint256"}],"outputs":[]},
 {"type":"function","name":"completeTransfer","stateMutability":"nonpayable","inputs":[{"name":"_requestId","type":"uint256"}],"outputs":[]},
 {"type":"function","name":"getLand","stateMutability":"view","inputs":[{"name":"_id","type":"uint256"}],"outputs":[
  {"name":"","type":"tuple","internalType":"struct LandRegistry.Land","components":[
   {"name":"id","type":"uint256"},{"name":"landId","type":"string"},{"name":"description","type":"string"},{"name":"location","type":"string"},
   {"name":"area","type":"uint256"},{"name":"imageUrl","type":"string"},{"name":"currentOwner","type":"address"},
   {"name":"isRegistered","type":"bool"},{"name":"registrationDate","type":"uint256"}]}]},
 {"type":"function","name":"getAllLands","stateMutability":"view","inputs":[],"outputs":[
  {"name":"","type":"tuple[]","internalType":"struct LandRegistry.Land[]","components":[
   {"name":"id","type":"uint256"},{"name":"landId","type":"string"},{"name":"description","type":"string"},{"name":"location","type":"string"},
   {"name":"area","type":"uint256"},{"name":"imageUrl","type":"string"},{"name":"currentOwner","type":"address"},
   {"name":"isRegistered","type":"bool"},{"name":"registrationDate","type":"uint256"}]}]},
 {"type":"function","name":"getUserLands","stateMutability":"view","inputs":[{"name":"_user","type":"address"}],"outputs":[{"name":"","type":"uint256[]"}]},
 {"type":"function","name":"getUser","stateMutability":"view","inputs":[{"name":"_userAddress","type":"address"}],"outputs":[
  {"name":"","type":"tuple","internalType":"struct LandRegistry.User","components":[
   {"name":"userAddress","type":"address"},{"name":"name","type":"string"},{"name":"email","type":"string"},
   {"name":"isRegistered","type":"bool"},{"name":"isAdmin","type":"bool"},{"name":"isActive","type":"bool"},
   {"name":"registrationDate","type":"uint256"}]}]},
 {"type":"function","name":"getTotalUsers","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"getAllTransferRequests","stateMutability":"view","inputs":[],"outputs":[
  {"name":"","type":"tuple[]","internalType":"struct LandRegistry.TransferRequest[]","components":[
   {"name":"id","type":"uint256"},{"name":"landId","type":"uint256"},{"name":"from","type":"address"},{"name":"to","type":"address"},
   {"name":"price","type":"uint256"},{"name":"isApproved","type":"bool"},{"name":"isCompleted","type":"bool"},
   {"name":"requestDate","type":"uint256"},{"name":"message","type":"string"}]}]},
 {"type":"function","name":"getPendingTransfers","stateMutability":"view","inputs":[],"outputs":[
  {"name":"","type":"tuple[]","internalType":"struct LandRegistry.TransferRequest[]","components":[
   {"name":"id","type":"uint256"},{"name":"landId","type":"uint256"},{"name":"from","type":"address"},{"name":"to","type":"address"},
   {"name":"price","type":"uint256"},{"name":"isApproved","type":"bool"},{"name":"isCompleted","type":"bool"},
   {"name":"requestDate","type":"uint256"},{"name":"message","type":"string"}]}]}
]`

// DefaultABI parses the built-in registry ABI.
func DefaultABI() (abi.ABI, error) {
	return abi.JSON(strings.NewReader(registryABI))
}

// LoadABI reads a Hardhat artifact ({"abi": [...]}) or a bare ABI array from
// path. An empty path yields the built-in ABI.
func LoadABI(path string) (abi.ABI, error) {
	if path == "" {
		return DefaultABI()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return abi.ABI{}, fmt.Errorf("read abi: %w", err)
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '{' {
		var artifact struct {
			ABI json.RawMessage `json:"abi"`
		}
		if err := json.Unmarshal(raw, &artifact); err != nil {
			return abi.ABI{}, fmt.Errorf("decode artifact %s: %w", path, err)
		}
		raw = artifact.ABI
	}
	parsed, err := abi.JSON(bytes.NewReader(raw))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("parse abi %s: %w", path, err)
	}
	return parsed, nil
}
