// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
)

// ChangeWalletIndex is the internal wallet receiving the change of outgoing
// batches.
const ChangeWalletIndex = 0

// Wallet returns the non-internal wallet at path, creating it on first use.
func (l *Ledger) Wallet(ctx context.Context, path Path) (*Wallet, error) {
	if err := path.Validate(); err != nil {
		return nil, err
	}
	if path.Reserved() {
		return nil, newError(ErrReservedPath,
			fmt.Sprintf("path %v is reserved for internal wallets",
				path), nil)
	}

	return l.getOrCreateWallet(ctx, path, false)
}

// InternalWallet returns the internal wallet n, path 0/n, creating it on
// first use.
func (l *Ledger) InternalWallet(ctx context.Context, n uint32) (*Wallet,
	error) {

	path := Path{0, n}
	if err := path.Validate(); err != nil {
		return nil, err
	}

	return l.getOrCreateWallet(ctx, path, true)
}

func (l *Ledger) getOrCreateWallet(ctx context.Context, path Path,
	internal bool) (*Wallet, error) {

	var w *Wallet
	create := func(q Queries) error {
		var err error
		w, err = q.GetOrCreateWallet(ctx, path, internal)
		return err
	}

	err := l.store.ExecTx(ctx, false, create)

	// A concurrent caller created the same wallet first. The failed
	// insert may have poisoned the transaction, so read it in a new one.
	if errors.Is(err, ErrDuplicate) {
		err = l.store.ExecTx(ctx, false, create)
	}
	if err != nil {
		return nil, storeError(
			fmt.Sprintf("unable to load wallet %v", path), err,
		)
	}

	return w, nil
}

// UnusedAddress returns the wallet's latest address until it has received an
// on-chain payment or a batch pays it, then derives the next one. A new address's private key
// is imported into the node before the address is recorded.
func (l *Ledger) UnusedAddress(ctx context.Context, walletID int64) (
	*Address, error) {

	var (
		wallet  *Wallet
		latest  *Address
		subpath uint32
	)
	err := l.store.ExecTx(ctx, true, func(q Queries) error {
		var err error
		wallet, err = q.GetWallet(ctx, walletID)
		if err != nil {
			return err
		}

		latest, err = q.LatestAddress(ctx, walletID)
		switch {
		case errors.Is(err, ErrNotFound):
			latest, subpath = nil, 0
			return nil

		case err != nil:
			return err
		}

		used, err := q.AddressHasChainReceipt(ctx, latest.ID)
		if err != nil {
			return err
		}

		// Change sent by our own batches is never credited, so an
		// address a batch pays is spent as well.
		if !used {
			used, err = q.AddressPaidByBatch(ctx, latest.Address)
			if err != nil {
				return err
			}
		}
		if used {
			latest, subpath = nil, latest.Subpath+1
		}

		return nil
	})
	if errors.Is(err, ErrNotFound) {
		return nil, newError(ErrWalletNotFound,
			fmt.Sprintf("wallet %d not found", walletID), nil)
	}
	if err != nil {
		return nil, storeError("unable to read addresses", err)
	}
	if latest != nil {
		return latest, nil
	}

	return l.createAddress(ctx, wallet, subpath)
}

// createAddress derives the address at subpath, imports its key into the
// node and records it.
func (l *Ledger) createAddress(ctx context.Context, wallet *Wallet,
	subpath uint32) (*Address, error) {

	addr, wif, err := l.keys.Derive(wallet.Path, subpath)
	if err != nil {
		return nil, fmt.Errorf("unable to derive %v: %w",
			wallet.Path.Child(subpath), err)
	}

	label := addressLabel(wallet.Path, subpath)
	if err := l.chain.ImportPrivKey(ctx, wif, label, false); err != nil {
		return nil, newError(ErrKeyImport,
			fmt.Sprintf("node refused key of %v", label), err)
	}

	var a *Address
	err = l.store.ExecTx(ctx, false, func(q Queries) error {
		var err error
		a, err = q.CreateAddress(ctx, CreateAddressParams{
			WalletID: wallet.ID,
			Subpath:  subpath,
			Address:  addr.EncodeAddress(),
		})
		return err
	})

	// Another caller recorded the same subpath first.
	if errors.Is(err, ErrDuplicate) {
		err = l.store.ExecTx(ctx, true, func(q Queries) error {
			var err error
			a, err = q.GetAddressBySubpath(ctx, wallet.ID, subpath)
			return err
		})
	}
	if err != nil {
		return nil, storeError("unable to record address", err)
	}

	log.Debugf("New address %v for wallet %v at subpath %d", a.Address,
		wallet.Path, subpath)

	return a, nil
}

// addressLabel is the node wallet label of a ledger key.
func addressLabel(path Path, subpath uint32) string {
	return "btcledger:" + path.Child(subpath).String()
}

// EnsureAddressesImported asks the node for the key of every ledger address
// and imports those it does not hold. The derived address must match the
// recorded one. It returns the number of keys imported; the node must rescan
// the chain for earlier payments to those addresses.
func (l *Ledger) EnsureAddressesImported(ctx context.Context) (int, error) {
	var (
		addrs   []Address
		wallets = make(map[int64]*Wallet)
	)
	err := l.store.ExecTx(ctx, true, func(q Queries) error {
		var err error
		addrs, err = q.ListAddresses(ctx)
		if err != nil {
			return err
		}

		for _, a := range addrs {
			if _, ok := wallets[a.WalletID]; ok {
				continue
			}
			w, err := q.GetWallet(ctx, a.WalletID)
			if err != nil {
				return err
			}
			wallets[a.WalletID] = w
		}

		return nil
	})
	if err != nil {
		return 0, storeError("unable to list addresses", err)
	}

	var imported int
	for _, a := range addrs {
		addr, err := btcutil.DecodeAddress(a.Address, l.chainParams)
		if err != nil {
			return imported, fmt.Errorf("address %d: %w", a.ID, err)
		}

		known, err := l.chain.HasPrivKey(ctx, addr)
		if err != nil {
			return imported, chainError(
				"unable to query node wallet", err,
			)
		}
		if known {
			continue
		}

		w := wallets[a.WalletID]
		derived, wif, err := l.keys.Derive(w.Path, a.Subpath)
		if err != nil {
			return imported, err
		}
		if derived.EncodeAddress() != a.Address {
			return imported, newError(ErrKeyImport,
				fmt.Sprintf("address %v does not match derived "+
					"address %v at %v", a.Address,
					derived.EncodeAddress(),
					w.Path.Child(a.Subpath)), nil)
		}

		label := addressLabel(w.Path, a.Subpath)
		if err := l.chain.ImportPrivKey(ctx, wif, label, false); err != nil {
			return imported, newError(ErrKeyImport,
				fmt.Sprintf("node refused key of %v", label), err)
		}
		imported++

		log.Infof("Imported missing key of address %v", a.Address)
	}

	return imported, nil
}
